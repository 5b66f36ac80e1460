package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	assert.NotEqual(t, id1.String(), id2.String())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestTypedIDGeneration(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"connection", NewConnectionID().String(), ConnectionPrefix},
		{"execution", NewExecutionID().String(), ExecutionPrefix},
		{"request", NewRequestID().String(), RequestPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.id, tt.prefix+"_"), tt.id)
			assert.True(t, HasPrefix(tt.id, tt.prefix))
			assert.False(t, HasPrefix(tt.id, "other"))
		})
	}
}

func TestConversationID(t *testing.T) {
	conv := NewConversationID()
	assert.True(t, IsConversationID(conv.String()))

	for _, bad := range []string{
		"",
		"../etc/passwd",
		"not-a-uuid",
		strings.ToUpper(conv.String()),
		"{" + conv.String() + "}",
		"urn:uuid:" + conv.String(),
	} {
		assert.False(t, IsConversationID(bad), bad)
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(NewGenerator().GenerateString()))
	assert.False(t, IsValid("invalid"))
	assert.False(t, IsValid(""))
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	conn := NewConnectionID()

	ts, err := Timestamp(conn.String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("conn_nope")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	const workers, perWorker = 10, 100

	var mu sync.Mutex
	seen := make(map[ConnectionID]bool, workers*perWorker)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := NewConnectionID()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestLexicographicSorting(t *testing.T) {
	gen := NewGenerator()
	prev := gen.GenerateString()
	for i := 0; i < 50; i++ {
		next := gen.GenerateString()
		assert.Less(t, prev, next)
		prev = next
	}
}

func BenchmarkNewConnectionID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewConnectionID()
	}
}
