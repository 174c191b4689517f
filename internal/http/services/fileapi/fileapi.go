// Copyright 2018-2024 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package fileapi exposes the multi-tenant file ingestion and export
// API: form-data and streaming uploads with on-the-fly decoding,
// resumable chunked uploads, nettskjema submission ingest and export
// listing/download, all scoped per project.
package fileapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/opencloud-eu/fileapi/pkg/appctx"
	"github.com/opencloud-eu/fileapi/pkg/config"
	"github.com/opencloud-eu/fileapi/pkg/errtypes"
	"github.com/opencloud-eu/fileapi/pkg/paths"
	"github.com/opencloud-eu/fileapi/pkg/resumable"
	"github.com/opencloud-eu/fileapi/pkg/sink"
	"github.com/opencloud-eu/fileapi/pkg/token"
	"github.com/opencloud-eu/fileapi/pkg/transform"
)

// Service is the HTTP surface of the file API.
type Service struct {
	c          *config.Config
	router     *chi.Mux
	verifier   *token.Verifier
	sink       *sink.Sink
	resumables *resumable.Manager
	keys       *transform.KeyDecryptor
	log        *zerolog.Logger
}

// New wires the service from its configuration. The PGP keyring is
// optional; without it encrypted uploads are rejected but everything
// else works.
func New(c *config.Config, log *zerolog.Logger) (*Service, error) {
	s := &Service{
		c:          c,
		router:     chi.NewRouter(),
		verifier:   token.NewVerifier(c.JWTSecrets, c.JWTMaxAge()),
		sink:       &sink.Sink{SetOwner: c.SetOwner},
		resumables: resumable.New(c.UploadsRoot, c.ResumableTTL()),
		log:        log,
	}
	if c.GPGSecring != "" {
		keys, err := transform.NewKeyDecryptor(c.GPGSecring)
		if err != nil {
			return nil, err
		}
		s.keys = keys
	}
	s.routerInit()
	return s, nil
}

// Handler returns the mounted router.
func (s *Service) Handler() http.Handler { return s.router }

// Resumables exposes the manager so the process can run the TTL sweeper.
func (s *Service) Resumables() *resumable.Manager { return s.resumables }

func (s *Service) routerInit() {
	s.router.Use(s.logging)
	s.router.Use(metricsMiddleware)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/{pnum}", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
				r.Method(m, "/upload", http.HandlerFunc(s.formUpload))
				r.Method(m, "/stream", http.HandlerFunc(s.stream))
				r.Method(m, "/stream/{filename}", http.HandlerFunc(s.stream))
			}
			r.Head("/upload", s.headUpload)
			r.Head("/stream", s.headStream)
			r.Head("/stream/{filename}", s.headStream)

			r.Get("/resumables", s.resumableInfo)
			r.Get("/resumables/{filename}", s.resumableInfo)
			r.Delete("/resumables", s.resumableAbort)
			r.Delete("/resumables/{filename}", s.resumableAbort)

			r.Get("/export", s.exportList)
			r.Get("/export/*", s.exportDownload)
		})
		for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
			r.Method(m, "/sns/{keyID}/{formID}", http.HandlerFunc(s.snsUpload))
		}
	})
}

// logging attaches a request-scoped logger and writes one line per
// request on the way out.
func (s *Service) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.log.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(appctx.WithLogger(r.Context(), &l)))
		l.Debug().Dur("duration", time.Since(start)).Msg("request handled")
	})
}

// authorize verifies the bearer token for the project in the URL.
func (s *Service) authorize(r *http.Request, roles ...string) (string, *token.Claims, error) {
	pnum := chi.URLParam(r, "pnum")
	claims, err := s.verifier.Verify(pnum, r.Header.Get("Authorization"), roles...)
	if err != nil {
		return pnum, nil, err
	}
	return pnum, claims, nil
}

// resolveGroup applies the ?group= parameter. A named group must be
// well formed, belong to the URL project and appear in the token's
// group set; without one the project member group is used.
func resolveGroup(r *http.Request, pnum string, claims *token.Claims) (string, error) {
	group := r.URL.Query().Get("group")
	if group == "" {
		return paths.MemberGroup(pnum), nil
	}
	if !paths.ValidGroup(group) || !strings.HasPrefix(group, pnum+"-") {
		return "", errtypes.NotAMember(group)
	}
	if !claims.MemberOf(group) {
		return "", errtypes.NotAMember(group)
	}
	return group, nil
}

// requestFilename takes the filename from the URL path or, for the
// bare stream endpoint, the Filename header.
func requestFilename(r *http.Request) (string, error) {
	name := chi.URLParam(r, "filename")
	if name == "" {
		name = r.Header.Get("Filename")
	}
	if name == "" {
		return "", errtypes.MissingFilename("supply a filename path segment or header")
	}
	return paths.CleanFilename(name)
}

// keyMaterial decrypts the Aes-Key header for pipelines that need it.
func (s *Service) keyMaterial(r *http.Request, pl transform.Pipeline) (*transform.KeyMaterial, error) {
	if !pl.NeedsKey() {
		return nil, nil
	}
	encKey := r.Header.Get("Aes-Key")
	if encKey == "" {
		return nil, errtypes.TransformError("content type requires an Aes-Key header")
	}
	if s.keys == nil {
		return nil, errtypes.TransformError("no decryption keyring configured")
	}
	key, err := s.keys.Decrypt(encKey)
	if err != nil {
		return nil, err
	}
	return transform.NewKeyMaterial(key, r.Header.Get("Aes-Iv"))
}

// body wraps the request body with the idle-read deadline and, when
// cap is positive, a running size check aborting mid-stream.
func (s *Service) body(w http.ResponseWriter, r *http.Request, cap int64) io.Reader {
	var rd io.Reader = &idleTimeoutReader{
		body:    r.Body,
		rc:      http.NewResponseController(w),
		timeout: s.c.IdleTimeout(),
	}
	if cap > 0 {
		rd = &cappedReader{r: rd, left: cap}
	}
	return rd
}

// idleTimeoutReader renews a read deadline before every read so a
// stalled client cannot hold a handler forever.
type idleTimeoutReader struct {
	body    io.Reader
	rc      *http.ResponseController
	timeout time.Duration
}

func (i *idleTimeoutReader) Read(p []byte) (int, error) {
	// not every transport supports read deadlines, a failure to set
	// one must not fail the upload
	_ = i.rc.SetReadDeadline(time.Now().Add(i.timeout))
	return i.body.Read(p)
}

type cappedReader struct {
	r    io.Reader
	left int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, errtypes.PayloadTooLarge("body exceeds the configured cap")
	}
	return n, err
}
