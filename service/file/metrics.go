// Copyright 2025 The fawa Authors
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

package file

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_uploads_total",
			Help: "Uploads by result: ok, too_large, type_not_allowed, no_payload, conflict, error.",
		},
		[]string{"result"},
	)

	uploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_uploaded_bytes_total",
		Help: "Bytes accepted by successful uploads.",
	})

	idCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_id_collisions_total",
		Help: "Generated identifiers that were already taken.",
	})

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_downloads_total",
			Help: "Downloads by kind: full, range, invalid_range, not_found, error.",
		},
		[]string{"kind"},
	)

	removalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_removals_total",
			Help: "Record removals by result.",
		},
		[]string{"result"},
	)
)

func uploadResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsReason(err, ReasonTooLarge):
		return "too_large"
	case IsReason(err, ReasonTypeNotAllowed):
		return "type_not_allowed"
	case IsReason(err, ReasonNoPayload):
		return "no_payload"
	case errors.Is(err, ErrStorageConflict):
		return "conflict"
	default:
		return "error"
	}
}
