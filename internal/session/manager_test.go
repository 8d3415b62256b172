package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kronos/internal/compaction"
	"kronos/internal/storage"
)

func newTestManager(t *testing.T, gen Generator) (*Manager, *storage.Stores) {
	t.Helper()
	stores, err := storage.OpenStores("sqlite", filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })
	return NewManager(DefaultConfig(), gen, compaction.EstimateCounter{}, stores.Contexts, stores.Transcripts), stores
}

func TestManager_SendNewThenResume(t *testing.T) {
	gen := &fakeGenerator{title: "Recursion Basics"}
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	title, resp, err := m.Send(ctx, DefaultTitle, "Explain recursion")
	require.NoError(t, err)
	assert.Equal(t, "Recursion Basics", title)
	assert.Equal(t, "answer to Explain recursion", resp)

	title, _, err = m.Send(ctx, title, "more please")
	require.NoError(t, err)
	assert.Equal(t, "Recursion Basics", title)
	assert.Equal(t, 1, gen.namingCalls)
	assert.Equal(t, "summary 1", gen.contexts[1])

	history, err := m.History(ctx, title)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, string(SpeakerUser), history[0].Speaker)
	assert.Equal(t, "Explain recursion", history[0].Content)
	assert.Equal(t, string(SpeakerAssistant), history[3].Speaker)

	rec, err := m.Context(ctx, title)
	require.NoError(t, err)
	assert.Equal(t, "summary 1\nsummary 2", rec.SummarizedContext)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Recursion Basics", list[0].Title)
}

func TestManager_ConcurrentTurnsSameTitle(t *testing.T) {
	gen := &fakeGenerator{}
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := m.Send(ctx, "Shared", fmt.Sprintf("msg %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Serialized turns never lose an exchange.
	rec, err := m.Context(ctx, "Shared")
	require.NoError(t, err)
	assert.Len(t, rec.Segments, n)

	history, err := m.History(ctx, "Shared")
	require.NoError(t, err)
	assert.Len(t, history, 2*n)
}

// barrierGenerator holds every naming call until n of them have arrived, so
// concurrent new conversations receive the same name at the same time.
type barrierGenerator struct {
	*fakeGenerator
	naming sync.WaitGroup
}

func newBarrierGenerator(title string, n int) *barrierGenerator {
	b := &barrierGenerator{fakeGenerator: &fakeGenerator{title: title}}
	b.naming.Add(n)
	return b
}

func (b *barrierGenerator) Generate(ctx context.Context, systemPrompt, contextText, userMessage string) (string, error) {
	if strings.HasPrefix(userMessage, "What would be an appropriate name") {
		b.naming.Done()
		b.naming.Wait()
	}
	return b.fakeGenerator.Generate(ctx, systemPrompt, contextText, userMessage)
}

func TestManager_ConcurrentNewConversationsSameName(t *testing.T) {
	gen := newBarrierGenerator("Trip", 2)
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	inputs := []string{"Paris plan", "Rome plan"}
	titles := make([]string, len(inputs))
	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		go func(i int, input string) {
			defer wg.Done()
			title, _, err := m.Send(ctx, DefaultTitle, input)
			assert.NoError(t, err)
			titles[i] = title
		}(i, input)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"Trip", "Trip (2)"}, titles)
	assert.Equal(t, 2, gen.namingCalls)

	for i, title := range titles {
		rec, err := m.Context(ctx, title)
		require.NoError(t, err)
		require.Len(t, rec.Segments, 1, title)

		history, err := m.History(ctx, title)
		require.NoError(t, err)
		require.Len(t, history, 2, title)
		assert.Equal(t, inputs[i], history[0].Content)
	}

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestManager_ParallelTitles(t *testing.T) {
	gen := &fakeGenerator{}
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	const conversations, turns = 16, 4
	var wg sync.WaitGroup
	errs := make(chan error, conversations*turns)
	for c := 0; c < conversations; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			title := fmt.Sprintf("Chat %d", c)
			for i := 0; i < turns; i++ {
				_, _, err := m.Send(ctx, title, fmt.Sprintf("msg %d", i))
				errs <- err
			}
		}(c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, conversations)
	for _, conv := range list {
		history, err := m.History(ctx, conv.Title)
		require.NoError(t, err)
		assert.Len(t, history, 2*turns, conv.Title)
	}
}

func TestManager_ConfiguredDefaultTitle(t *testing.T) {
	stores, err := storage.OpenStores("sqlite", filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })

	cfg := DefaultConfig()
	cfg.DefaultTitle = "Untitled"
	gen := &fakeGenerator{title: "Greetings"}
	m := NewManager(cfg, gen, compaction.EstimateCounter{}, stores.Contexts, stores.Transcripts)

	title, _, err := m.Send(context.Background(), "Untitled", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Greetings", title)
	assert.Equal(t, 1, gen.namingCalls)
}

func TestManager_Delete(t *testing.T) {
	gen := &fakeGenerator{title: "Trip Planning"}
	m, _ := newTestManager(t, gen)
	ctx := context.Background()

	_, _, err := m.Send(ctx, "", "Plan a Paris trip")
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "Trip Planning"))
	assert.ErrorIs(t, m.Delete(ctx, "Trip Planning"), storage.ErrNotFound)

	rec, err := m.Context(ctx, "Trip Planning")
	require.NoError(t, err)
	assert.True(t, rec.IsEmpty())
}

func TestManager_EmptyInput(t *testing.T) {
	m, _ := newTestManager(t, &fakeGenerator{})
	_, _, err := m.Send(context.Background(), "X", " ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
