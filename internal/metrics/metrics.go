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

// Package metrics holds the Prometheus collectors for the helpdesk
// ingestion and outbound paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inbound webhook outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
	OutcomeRejected  = "rejected"
)

var (
	InboundWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_inbound_webhooks_total",
		Help: "Inbound webhook deliveries by outcome",
	}, []string{"outcome"})

	ThreadResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_thread_resolutions_total",
		Help: "Thread resolutions by the rule that matched",
	}, []string{"rule"})

	OutboundSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_outbound_sends_total",
		Help: "Outbound email sends by driver and result",
	}, []string{"driver", "result"})

	ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_archive_failures_total",
		Help: "Raw email archive writes that failed and were skipped",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_events_published_total",
		Help: "Domain events pushed to the task queue by type and result",
	}, []string{"type", "result"})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helpdesk_inbound_pipeline_duration_seconds",
		Help:    "Time spent processing one inbound email",
		Buckets: prometheus.DefBuckets,
	})
)

// Result maps an error to a "success"/"failure" label.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
