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

// Package health is the Health Aggregator (HA): a structured snapshot of
// store reachability, process metrics, and device/telemetry counts, plus a
// background reconciler that keeps the Liveness Cache honest.
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/iotflow/ingestor/pkg/liveness"
	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/metadata"
	"github.com/iotflow/ingestor/pkg/models"
	"github.com/iotflow/ingestor/pkg/sharedstate"
	"github.com/iotflow/ingestor/pkg/timeseries"
)

// DefaultReconcileInterval is how often the background reconciler runs.
const DefaultReconcileInterval = 60 * time.Second

// DefaultScanBudget bounds how long one reconciler tick may run.
const DefaultScanBudget = 5 * time.Second

// StoreStatus reports one backend's reachability and response latency.
type StoreStatus struct {
	Reachable bool
	Latency   time.Duration
	Error     string
}

// ProcessMetrics is the subset of host metrics this snapshot reports; LoadAvg
// is zero on platforms gopsutil can't sample it from (e.g. Windows).
type ProcessMetrics struct {
	CPUPercent  float64
	MemoryUsed  uint64
	MemoryTotal uint64
	DiskUsed    uint64
	DiskTotal   uint64
	LoadAvg1    float64
}

// DeviceCounts breaks the fleet down by admin status and cache freshness.
type DeviceCounts struct {
	Total        int
	Active       int
	OnlineRecent int
	Offline      int
}

// Snapshot is the Health Aggregator's complete structured report.
type Snapshot struct {
	Timestamp     time.Time
	Metadata      StoreStatus
	TimeSeries    StoreStatus
	SharedCache   StoreStatus
	Process       ProcessMetrics
	Devices       DeviceCounts
	TelemetryHour int64
	TelemetryDay  int64
}

// Aggregator builds Snapshots and runs the background liveness reconciler.
type Aggregator struct {
	msa    metadata.Store
	tsa    timeseries.Store
	shared sharedstate.Store
	lc     *liveness.Cache
	log    logger.Logger

	reconcileInterval time.Duration
	scanBudget        time.Duration
}

// Option configures an Aggregator at construction time.
type Option func(*Aggregator)

// WithReconcileInterval overrides DefaultReconcileInterval.
func WithReconcileInterval(d time.Duration) Option {
	return func(a *Aggregator) { a.reconcileInterval = d }
}

// WithScanBudget overrides DefaultScanBudget.
func WithScanBudget(d time.Duration) Option {
	return func(a *Aggregator) { a.scanBudget = d }
}

// New builds an Aggregator. shared may be nil if no shared tier is
// configured.
func New(msa metadata.Store, tsa timeseries.Store, shared sharedstate.Store, lc *liveness.Cache, log logger.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		msa:               msa,
		tsa:               tsa,
		shared:            shared,
		lc:                lc,
		log:               log,
		reconcileInterval: DefaultReconcileInterval,
		scanBudget:        DefaultScanBudget,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Snapshot assembles the full health report.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	now := time.Now().UTC()

	snap := Snapshot{
		Timestamp:   now,
		Metadata:    probeMetadata(ctx, a.msa),
		TimeSeries:  probeTimeSeries(ctx, a.tsa),
		SharedCache: probeShared(ctx, a.shared),
		Process:     collectProcessMetrics(ctx),
	}

	snap.Devices, snap.TelemetryHour, snap.TelemetryDay = a.fleetCounts(ctx, now)

	return snap
}

func probeMetadata(ctx context.Context, store metadata.Store) StoreStatus {
	if store == nil {
		return StoreStatus{}
	}

	start := time.Now()
	_, err := store.FindByID(ctx, 0)

	status := StoreStatus{Latency: time.Since(start)}

	if err != nil && err != models.ErrNotFound {
		status.Error = err.Error()
		return status
	}

	status.Reachable = true

	return status
}

func probeTimeSeries(ctx context.Context, store timeseries.Store) StoreStatus {
	if store == nil {
		return StoreStatus{}
	}

	start := time.Now()
	_, err := store.Count(ctx, 0, time.Now().Add(-time.Minute))

	status := StoreStatus{Latency: time.Since(start)}
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.Reachable = true

	return status
}

func probeShared(ctx context.Context, store sharedstate.Store) StoreStatus {
	if store == nil {
		return StoreStatus{}
	}

	deadlineCtx, cancel := sharedstate.WithDeadline(ctx)
	defer cancel()

	start := time.Now()
	_, _, err := store.Get(deadlineCtx, "health:probe")

	status := StoreStatus{Latency: time.Since(start)}
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.Reachable = true

	return status
}

func collectProcessMetrics(ctx context.Context) ProcessMetrics {
	var m ProcessMetrics

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		m.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryUsed = vm.Used
		m.MemoryTotal = vm.Total
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		m.DiskUsed = du.Used
		m.DiskTotal = du.Total
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		m.LoadAvg1 = avg.Load1
	}

	return m
}

// fleetCounts walks ListActive once, deriving device counts from LC and
// summing each device's TSA count for the last hour/day.
func (a *Aggregator) fleetCounts(ctx context.Context, now time.Time) (DeviceCounts, int64, int64) {
	var (
		counts              DeviceCounts
		hourTotal, dayTotal int64
	)

	if a.msa == nil {
		return counts, 0, 0
	}

	stream, err := a.msa.ListActive(ctx)
	if err != nil {
		return counts, 0, 0
	}

	for active := range stream {
		if active.Err != nil {
			continue
		}

		counts.Total++
		counts.Active++

		if a.lc != nil {
			switch a.lc.Evaluate(active.Device.ID, now, true) {
			case models.LivenessOnline:
				counts.OnlineRecent++
			case models.LivenessOffline:
				counts.Offline++
			}
		}

		if a.tsa == nil {
			continue
		}

		if n, err := a.tsa.Count(ctx, active.Device.ID, now.Add(-time.Hour)); err == nil {
			hourTotal += n
		}

		if n, err := a.tsa.Count(ctx, active.Device.ID, now.Add(-24*time.Hour)); err == nil {
			dayTotal += n
		}
	}

	return counts, hourTotal, dayTotal
}

// Reconcile runs one bounded reconciler tick: for every active device, if LC
// says "online" but last_seen has drifted stale, downgrade to "offline"; if
// LC has no entry, seed it from MSA.last_seen when that timestamp is still
// fresh.
func (a *Aggregator) Reconcile(ctx context.Context) {
	if a.msa == nil || a.lc == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.scanBudget)
	defer cancel()

	stream, err := a.msa.ListActive(ctx)
	if err != nil {
		if a.log != nil {
			a.log.Warn().Err(err).Msg("health: reconciler could not list active devices")
		}

		return
	}

	now := time.Now().UTC()

	for active := range stream {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if active.Err != nil {
			continue
		}

		rec, ok := a.lc.Get(active.Device.ID)
		if !ok {
			if now.Sub(active.Device.LastSeen) < a.freshnessWindow() {
				a.lc.Touch(ctx, active.Device.ID, active.Device.LastSeen)
			}

			continue
		}

		if rec.Status == models.LivenessOnline && now.Sub(rec.LastSeen) >= a.freshnessWindow() {
			a.lc.SetStatus(ctx, active.Device.ID, models.LivenessOffline)
		}
	}
}

func (a *Aggregator) freshnessWindow() time.Duration {
	return a.lc.FreshnessWindow()
}

// RunReconciler blocks, invoking Reconcile on every tick until ctx is
// cancelled.
func (a *Aggregator) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(a.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Reconcile(ctx)
		}
	}
}
