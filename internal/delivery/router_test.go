package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/model"
)

type namedChannel string

func (n namedChannel) Name() string                        { return string(n) }
func (n namedChannel) Send(context.Context, Message) error { return nil }
func (n namedChannel) Ping(context.Context) error          { return nil }

func TestRouter_Route(t *testing.T) {
	email := namedChannel("email")
	telegram := namedChannel("telegram")

	tests := []struct {
		name    string
		router  *Router
		kind    model.ChannelType
		address string
		want    string
		wantErr bool
	}{
		{name: "single email", router: NewRouter(email, telegram), kind: model.ChannelSingle, address: "a@b.c", want: "email"},
		{name: "multi email", router: NewRouter(email, telegram), kind: model.ChannelMulti, address: "a@b.c", want: "email"},
		{name: "multi telegram", router: NewRouter(email, telegram), kind: model.ChannelMulti, address: "telegram:42", want: "telegram"},
		{name: "single telegram", router: NewRouter(email, telegram), kind: model.ChannelSingle, address: "telegram:42", wantErr: true},
		{name: "telegram not configured", router: NewRouter(email, nil), kind: model.ChannelMulti, address: "telegram:42", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := tt.router.Route(tt.kind, tt.address)
			if tt.wantErr {
				assert.True(t, appErr.IsPermanent(err))
				assert.True(t, errors.Is(err, appErr.ErrUnsupportedAddress))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ch.Name())
		})
	}
}

func TestRouter_Channels(t *testing.T) {
	assert.Len(t, NewRouter(namedChannel("email"), nil).Channels(), 1)
	assert.Len(t, NewRouter(namedChannel("email"), namedChannel("telegram")).Channels(), 2)
}

func TestIdempotencyKey(t *testing.T) {
	k, r1, r2 := uuid.New(), uuid.New(), uuid.New()

	assert.Equal(t, IdempotencyKey(k, r1), IdempotencyKey(k, r1))
	assert.NotEqual(t, IdempotencyKey(k, r1), IdempotencyKey(k, r2))
}
