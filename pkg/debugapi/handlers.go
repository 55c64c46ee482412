// Copyright 2025 UMH Systems GmbH
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

package debugapi

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/depqueue"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/engine"
	"github.com/united-manufacturing-hub/hwvtep-core/pkg/model"
)

const engineKey = "engine"

// DeviceSummary is one entry of the device list.
type DeviceSummary struct {
	ParkedJobs     map[string]int `json:"parkedJobs"`
	Name           string         `json:"name"`
	InTransit      int            `json:"inTransit"`
	DroppedBatches int            `json:"droppedBatches"`
	Idle           bool           `json:"idle"`
}

// JobView is a parked job as shown by the API.
type JobView struct {
	CreatedAt time.Time `json:"createdAt"`
	Target    string    `json:"target"`
	Kind      string    `json:"kind"`
	Unmet     []string  `json:"unmet"`
}

func (s *Server) listDevices(c *gin.Context) {
	names := s.devices.Devices()
	summaries := make([]DeviceSummary, 0, len(names))

	for _, name := range names {
		eng, ok := s.devices.Engine(name)
		if !ok {
			continue
		}

		summary := DeviceSummary{
			Name:           name,
			Idle:           eng.Idle(),
			InTransit:      len(eng.State().InTransitKeys()),
			DroppedBatches: len(eng.DroppedBatches()),
			ParkedJobs:     make(map[string]int),
		}

		for _, kind := range depqueue.Kinds() {
			summary.ParkedJobs[kind.String()] = eng.DependencyQueue().LenOf(kind)
		}

		summaries = append(summaries, summary)
	}

	s.render(c, http.StatusOK, summaries)
}

func (s *Server) requireEngine(c *gin.Context) {
	name := c.Param("device")

	eng, ok := s.devices.Engine(name)
	if !ok {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("device %s is not managed", name))
		c.Abort()

		return
	}

	c.Set(engineKey, eng)
	c.Next()
}

func engineOf(c *gin.Context) *engine.Engine {
	return c.MustGet(engineKey).(*engine.Engine)
}

func (s *Server) listJobs(c *gin.Context) {
	kinds := depqueue.Kinds()

	if filter := c.Query("kind"); filter != "" {
		idx := slices.IndexFunc(kinds, func(k depqueue.Kind) bool { return k.String() == filter })
		if idx < 0 {
			s.renderError(c, http.StatusBadRequest, fmt.Errorf("unknown job kind %q", filter))

			return
		}

		kinds = kinds[idx : idx+1]
	}

	queue := engineOf(c).DependencyQueue()
	jobs := []JobView{}

	for _, kind := range kinds {
		for job := range queue.IterateWaitingJobs(kind) {
			jobs = append(jobs, JobView{
				Target:    job.Target.String(),
				Kind:      job.Kind.String(),
				CreatedAt: job.CreatedAt,
				Unmet:     keyStrings(job.Unmet.Keys()),
			})
		}
	}

	slices.SortFunc(jobs, func(a, b JobView) int { return strings.Compare(a.Target, b.Target) })

	s.render(c, http.StatusOK, jobs)
}

func (s *Server) listInTransit(c *gin.Context) {
	s.render(c, http.StatusOK, keyStrings(engineOf(c).State().InTransitKeys()))
}

func (s *Server) listDroppedBatches(c *gin.Context) {
	s.render(c, http.StatusOK, engineOf(c).DroppedBatches())
}

func (s *Server) getState(c *gin.Context) {
	snapshot, err := engineOf(c).State().Snapshot()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)

		return
	}

	s.render(c, http.StatusOK, snapshot)
}

func keyStrings(keys []model.EntityKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}

	return out
}
