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
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/safejson"
)

const contentTypeJSON = "application/json; charset=utf-8"

// render writes v as JSON, gzip compressed when the client accepts it.
func (s *Server) render(c *gin.Context, status int, v any) {
	body, err := safejson.Marshal(v)
	if err != nil {
		s.logger.Errorf("Failed to encode %s response: %v", c.FullPath(), err)
		c.Status(http.StatusInternalServerError)

		return
	}

	if !acceptsGzip(c.Request) {
		c.Data(status, contentTypeJSON, body)

		return
	}

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		s.logger.Errorf("Failed to compress %s response: %v", c.FullPath(), err)
		c.Data(status, contentTypeJSON, body)

		return
	}

	if err := zw.Close(); err != nil {
		s.logger.Errorf("Failed to compress %s response: %v", c.FullPath(), err)
		c.Data(status, contentTypeJSON, body)

		return
	}

	c.Header("Content-Encoding", "gzip")
	c.Header("Vary", "Accept-Encoding")
	c.Data(status, contentTypeJSON, buf.Bytes())
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	s.render(c, status, gin.H{
		"error":  err.Error(),
		"status": status,
	})
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		encoding, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if encoding == "gzip" {
			return true
		}
	}

	return false
}
