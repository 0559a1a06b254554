package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manish5476/apex/internal/invoicing"
)

type memStore struct {
	rows []Notification
	err  error
}

func (m *memStore) Insert(_ context.Context, n *Notification) error {
	if m.err != nil {
		return m.err
	}
	n.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, *n)
	return nil
}

func TestNewSalePublishesAndPersists(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(ctx, "apex:events:org:1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	store := &memStore{}
	svc := NewService(client, store, nil)

	event := invoicing.NewSaleEvent{OrganizationID: 1, InvoiceNumber: "INV-000042", GrandTotal: 350}
	require.NoError(t, svc.NewSale(ctx, event))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got invoicing.NewSaleEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, event, got)

	require.Len(t, store.rows, 1)
	assert.Equal(t, int64(1), store.rows[0].OrgID)
	assert.Equal(t, "new_sale", store.rows[0].Kind)
}

func TestNewSaleWithoutRedisStillPersists(t *testing.T) {
	store := &memStore{}
	svc := NewService(nil, store, nil)

	err := svc.NewSale(context.Background(), invoicing.NewSaleEvent{OrganizationID: 2, InvoiceNumber: "INV-000001", GrandTotal: 10})
	require.NoError(t, err)
	assert.Len(t, store.rows, 1)
}

func TestNewSaleSurfacesStoreFailure(t *testing.T) {
	svc := NewService(nil, &memStore{err: assert.AnError}, nil)
	err := svc.NewSale(context.Background(), invoicing.NewSaleEvent{OrganizationID: 3})
	assert.Error(t, err)
}
