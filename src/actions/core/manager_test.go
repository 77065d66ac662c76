package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.events = append(*f.events, "start:"+f.name)
	return nil
}

func (f *fakeModule) Stop(context.Context) {
	*f.events = append(*f.events, "stop:"+f.name)
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager(nil, &fakeModule{name: "a", events: &events}, nil, &fakeModule{name: "b", events: &events})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx))
	assert.Error(t, m.Add(&fakeModule{name: "late", events: &events}))

	m.Stop(ctx)
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)
}

func TestManagerRollsBackOnFailure(t *testing.T) {
	var events []string
	boom := errors.New("boom")
	m := NewManager(nil,
		&fakeModule{name: "a", events: &events},
		&fakeModule{name: "b", events: &events, startErr: boom},
		&fakeModule{name: "c", events: &events},
	)

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start:a", "stop:a"}, events)

	m.Stop(context.Background())
	assert.Equal(t, []string{"start:a", "stop:a"}, events)
}
