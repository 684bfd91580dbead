/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	startErr  error
	stopErr   error
	stopDelay time.Duration
	stopped   chan struct{}
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}

	<-ctx.Done()

	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	if f.stopDelay > 0 {
		select {
		case <-time.After(f.stopDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if f.stopped != nil {
		close(f.stopped)
	}

	return f.stopErr
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	stopped := make(chan struct{})
	svc := &fakeService{stopped: stopped}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- Run(ctx, &RunOptions{
			ServiceName:     "test",
			Service:         svc,
			ShutdownTimeout: time.Second,
		})
	}()

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("service Stop was never called")
	}
}

func TestRunPropagatesServiceStartError(t *testing.T) {
	svc := &fakeService{startErr: errors.New("boom")}

	err := Run(context.Background(), &RunOptions{
		ServiceName: "test",
		Service:     svc,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunReturnsTimeoutWhenStopHangs(t *testing.T) {
	svc := &fakeService{stopDelay: 500 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- Run(ctx, &RunOptions{
			ServiceName:     "test",
			Service:         svc,
			ShutdownTimeout: 50 * time.Millisecond,
		})
	}()

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, errShutdownTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown timeout")
	}
}
