// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package casenumber_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk/ingestion/internal/casenumber"
	"github.com/helpdesk/ingestion/internal/models"
	"github.com/helpdesk/ingestion/internal/store"
	"github.com/helpdesk/ingestion/internal/store/memory"
)

func TestGenerate_Format(t *testing.T) {
	for i := 0; i < 500; i++ {
		n := casenumber.Generate()
		require.True(t, casenumber.Valid(n), "malformed case number %q", n)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, casenumber.Valid("AB123456"))
	assert.False(t, casenumber.Valid("ab123456"))
	assert.False(t, casenumber.Valid("AB12345"))
	assert.False(t, casenumber.Valid("ABC23456"))
	assert.False(t, casenumber.Valid("AB1234567"))
}

func TestGenerator_RetriesOnCollision(t *testing.T) {
	seq := []string{"AA000001", "AA000002", "AA000003"}
	calls := 0
	g := casenumber.Generator{Rand: func() string {
		n := seq[calls]
		calls++
		return n
	}}
	taken := map[string]bool{"AA000001": true, "AA000002": true}

	got, err := g.Next(context.Background(), func(_ context.Context, n string) (bool, error) {
		return taken[n], nil
	})
	require.NoError(t, err)
	assert.Equal(t, "AA000003", got)
	assert.Equal(t, 3, calls)
}

func TestGenerator_Exhausted(t *testing.T) {
	g := casenumber.Generator{MaxAttempts: 3, Rand: func() string { return "AA000001" }}
	_, err := g.Next(context.Background(), func(context.Context, string) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, casenumber.ErrExhausted)
}

func TestGenerator_PropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	_, err := casenumber.Generator{}.Next(context.Background(), func(context.Context, string) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestGenerator_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := casenumber.Generator{}.Next(ctx, func(context.Context, string) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// TestGenerator_ConcurrentUnique creates conversations from many goroutines
// over a deliberately tiny number space so collisions are certain.
func TestGenerator_ConcurrentUnique(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	contact := &models.Contact{Email: "jane@x.com"}
	require.NoError(t, s.CreateContact(ctx, contact))

	var (
		mu   sync.Mutex
		next int
	)
	small := func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return []string{"AA000001", "AA000002", "AA000003"}[next%3]
	}
	g := casenumber.Generator{MaxAttempts: 1000}

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gen := g
			if i < 3 {
				gen.Rand = small
			}
			errs <- s.WithTx(ctx, func(q store.Queries) error {
				for {
					number, err := gen.Next(ctx, q.CaseNumberExists)
					if err != nil {
						return err
					}
					err = q.CreateConversation(ctx, &models.Conversation{ContactID: contact.ID, CaseNumber: number})
					if errors.Is(err, store.ErrConflict) {
						continue
					}
					return err
				}
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for _, c := range s.Conversations() {
		assert.True(t, casenumber.Valid(c.CaseNumber))
		assert.False(t, seen[c.CaseNumber], "duplicate case number %s", c.CaseNumber)
		seen[c.CaseNumber] = true
	}
	assert.Len(t, seen, n)
}
