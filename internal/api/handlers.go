package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/zde37/ringkv/internal/node"
	"github.com/zde37/ringkv/internal/transport"
	"github.com/zde37/ringkv/pkg"
	"github.com/zde37/ringkv/pkg/hash"
)

const maxRequestSize = 32 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// pathParam returns the final path segment after prefix, decoded once from
// the escaped path. Keys may contain '/', '%', '?' or '#', which the router
// leaves partly escaped.
func pathParam(r *http.Request, prefix string) (string, error) {
	v, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkg.ErrMalformedRequest, err)
	}
	return v, nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkg.ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, pkg.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkg.ErrForwardingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, transport.ErrorResponse{Error: err.Error()})
}

// writeRelay passes the owner's answer back unchanged.
func writeRelay(w http.ResponseWriter, relay *node.Relay) {
	if relay.ContentType != "" {
		w.Header().Set("Content-Type", relay.ContentType)
	}
	w.WriteHeader(relay.StatusCode)
	w.Write(relay.Body)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestSize)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrMalformedRequest, err)
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req transport.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ID == "" || req.Address == "" {
		writeJSON(w, http.StatusBadRequest, transport.ErrorResponse{Error: "invalid peer data: id and address are required"})
		return
	}

	s.node.Register(req.ID, req.Address)
	writeJSON(w, http.StatusOK, transport.RegisterResponse{
		Status:    "success",
		PeerCount: s.node.PeerCount(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, transport.PeersResponse{Peers: s.node.Peers()})
}

// putBody distinguishes a missing value from an empty one.
type putBody struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req putBody
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Key == "" || req.Value == nil {
		writeJSON(w, http.StatusBadRequest, transport.ErrorResponse{Error: "key and value are required"})
		return
	}

	forwarded := r.Header.Get(transport.ForwardedHeader) != ""
	res, err := s.node.Put(r.Context(), req.Key, []byte(*req.Value), forwarded)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !res.Local() {
		writeRelay(w, res.Relay)
		return
	}

	writeJSON(w, http.StatusOK, transport.PutResponse{
		Status:      "stored",
		NodeID:      s.node.ID(),
		NodeAddress: s.node.Address(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	key, err := pathParam(r, "/kv/")
	if err != nil {
		s.writeError(w, err)
		return
	}

	forwarded := r.Header.Get(transport.ForwardedHeader) != ""
	res, err := s.node.Get(r.Context(), key, forwarded)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !res.Local() {
		writeRelay(w, res.Relay)
		return
	}

	writeJSON(w, http.StatusOK, transport.GetResponse{
		Key:    res.Key,
		Value:  string(res.Value),
		NodeID: s.node.ID(),
	})
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	key, err := pathParam(r, "/owner/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	owner := s.node.Owner(key)
	writeJSON(w, http.StatusOK, map[string]any{
		"key":          key,
		"keyHash":      hash.Text(hash.DigestString(key)),
		"ownerId":      owner.ID,
		"ownerAddress": owner.Address,
		"position":     hash.Text(owner.Position),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	stats := s.node.Store().Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           s.node.ID(),
		"address":      s.node.Address(),
		"position":     hash.Text(s.node.Self().Position),
		"peerCount":    s.node.PeerCount(),
		"keys":         stats.Entries,
		"hits":         stats.Hits,
		"misses":       stats.Misses,
		"registration": s.registrationState(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"id":        s.node.ID(),
		"peerCount": s.node.PeerCount(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var buf bytes.Buffer
	if err := s.node.Metrics().Render(&buf, s.node.Address(), s.node.PeerCount()); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req transport.MessageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	s.node.Metrics().IncRecv()
	s.logger.Info().
		Str("from", req.From).
		Str("body", req.Body).
		Msg("Received message")

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// filePath resolves name inside the data directory. Only the base name is
// kept so requests cannot escape it.
func (s *Server) filePath(name string) (string, bool) {
	if s.dataDir == "" {
		return "", false
	}
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", false
	}
	return filepath.Join(s.dataDir, base), true
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	name, err := pathParam(r, "/files/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	path, ok := s.filePath(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, transport.ErrorResponse{Error: "file exchange disabled"})
		return
	}

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		s.writeError(w, err)
		return
	}

	f, err := os.CreateTemp(s.dataDir, ".upload-*")
	if err != nil {
		s.writeError(w, err)
		return
	}
	tmp := f.Name()

	n, err := io.Copy(f, io.LimitReader(r.Body, maxRequestSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		s.writeError(w, err)
		return
	}

	s.logger.Info().Str("file", filepath.Base(path)).Int64("bytes", n).Msg("Stored file")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "uploaded",
		"name":   filepath.Base(path),
		"size":   n,
	})
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	name, err := pathParam(r, "/files/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	path, ok := s.filePath(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, transport.ErrorResponse{Error: "file exchange disabled"})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, transport.ErrorResponse{Error: "file not found"})
			return
		}
		s.writeError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
