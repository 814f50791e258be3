package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlotStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	pool, schema := mustTestPool(t)

	store, err := NewSlotStore(ctx, pool, schema)
	require.NoError(t, err)

	_, err = store.Register(ctx, "pool-002", "bot-pool-002", "operator@example.com")
	require.NoError(t, err)
	first, err := store.Register(ctx, "pool-001", "bot-pool-001", "")
	require.NoError(t, err)
	require.Equal(t, "available", first.Status)
	require.Equal(t, int64(1), first.Version)

	_, err = store.Register(ctx, "pool-001", "other", "")
	require.ErrorIs(t, err, ErrDuplicate)

	available := "available"
	list, err := store.List(ctx, &available)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "pool-001", list[0].SlotID)

	chatbot := "bot-42"
	next := first
	next.Status = "in-use"
	next.ChatbotID = &chatbot
	updated, err := store.CompareAndSwap(ctx, next, first.Version)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	_, err = store.CompareAndSwap(ctx, next, first.Version)
	require.ErrorIs(t, err, ErrVersionConflict)

	byBot, err := store.GetByChatbot(ctx, chatbot)
	require.NoError(t, err)
	require.Equal(t, "pool-001", byBot.SlotID)

	require.NoError(t, store.MarkChecked(ctx, "pool-001", time.Now().UTC()))
	checked, err := store.Get(ctx, "pool-001")
	require.NoError(t, err)
	require.Equal(t, int64(2), checked.Version)
	require.NotNil(t, checked.LastCheckedAt)

	_, err = store.Get(ctx, "pool-999")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.MarkChecked(ctx, "pool-999", time.Now()), ErrNotFound)
}

func TestSlotStoreCompareAndSwapSingleWinner(t *testing.T) {
	ctx := context.Background()
	pool, schema := mustTestPool(t)

	store, err := NewSlotStore(ctx, pool, schema)
	require.NoError(t, err)
	rec, err := store.Register(ctx, "pool-001", "bot-pool-001", "")
	require.NoError(t, err)

	const contenders = 8
	var wg sync.WaitGroup
	wins := make(chan string, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := string(rune('a' + i))
			next := rec
			next.Status = "in-use"
			next.ChatbotID = &owner
			if _, err := store.CompareAndSwap(ctx, next, rec.Version); err == nil {
				wins <- owner
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)
}

func TestChatbotAndDeploymentStores(t *testing.T) {
	ctx := context.Background()
	pool, schema := mustTestPool(t)

	chatbots, err := NewChatbotStore(ctx, pool, schema)
	require.NoError(t, err)

	slot := "pool-001"
	uri := "neo4j+s://abcd1234.databases.neo4j.io"
	require.NoError(t, chatbots.Upsert(ctx, ChatbotRecord{
		ChatbotID:   "bot-1",
		SlotID:      &slot,
		GraphURI:    &uri,
		DocumentIDs: []string{"doc-b", "doc-a"},
	}))
	require.NoError(t, chatbots.Upsert(ctx, ChatbotRecord{ChatbotID: "bot-1", DocumentIDs: []string{"doc-a", "doc-c"}}))

	got, err := chatbots.Get(ctx, "bot-1")
	require.NoError(t, err)
	require.Equal(t, []string{"doc-a", "doc-b", "doc-c"}, got.DocumentIDs)
	require.Equal(t, uri, *got.GraphURI)

	deleted, err := chatbots.Delete(ctx, "bot-1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = chatbots.Delete(ctx, "bot-1")
	require.NoError(t, err)
	require.False(t, deleted)

	_, err = chatbots.Get(ctx, "bot-1")
	require.ErrorIs(t, err, ErrNotFound)

	deployments, err := NewDeploymentStore(ctx, pool, schema)
	require.NoError(t, err)

	rec := DeploymentRecord{DeploymentID: newTestUUID(t), SlotID: slot, BuildState: "pending"}
	saved, err := deployments.Save(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, "pending", saved.BuildState)

	url := "https://bot-pool-001.vercel.app"
	saved.BuildState = "promoted"
	saved.ResolvedURL = &url
	saved.Clean = true
	saved.UpdatedAt = time.Now().UTC()
	_, err = deployments.Save(ctx, saved)
	require.NoError(t, err)

	fetched, err := deployments.Get(ctx, rec.DeploymentID)
	require.NoError(t, err)
	require.Equal(t, "promoted", fetched.BuildState)
	require.True(t, fetched.Clean)

	recent, err := deployments.ListBySlot(ctx, slot, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}
