package loopback

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/query"
	"github.com/queryduck/queryduck-go/pkg/value"
)

const (
	// DefaultLimit applies when a query names no limit.
	DefaultLimit = 100
	// MaxLimit caps the rows of one page.
	MaxLimit = 1000
	// maxBody bounds request bodies.
	maxBody = 32 << 20
)

// Server serves a Store over HTTP.
type Server struct {
	store  *Store
	addr   string
	prefix string
}

// NewServer creates a server listening on addr. Routes are mounted below
// prefix, e.g. "/api/v0".
func NewServer(store *Store, addr, prefix string) *Server {
	return &Server{
		store:  store,
		addr:   addr,
		prefix: strings.TrimRight(prefix, "/"),
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.prefix+"/"+protocol.PathQuery, s.handleQuery)
	mux.HandleFunc("POST "+s.prefix+"/"+protocol.PathTransaction, s.handleTransaction)
	mux.HandleFunc("GET "+s.prefix+"/"+protocol.PathStatements, s.handleExport)
	mux.HandleFunc("POST "+s.prefix+"/"+protocol.PathStatements, s.handleCreate)
	mux.HandleFunc("GET "+s.prefix+"/"+protocol.StatementPath("{ref}"), s.handleGet)
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting statement server at http://%s%s", s.addr, s.prefix)
	return server.ListenAndServe()
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req protocol.QueryRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	target, err := query.ParseTarget(req.Target)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	q, err := protocol.ParamsToQuery(req.Query, target, nil)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	fetch := false
	for _, el := range q.Elements() {
		f, ok := el.(*query.Fetch)
		if !ok {
			s.writeError(w, http.StatusNotImplemented, "unsupported element", string(el.MainType())+"."+el.Keyword())
			return
		}
		if _, main := f.Entity().(*query.Main); !main {
			s.writeError(w, http.StatusNotImplemented, "unsupported element", "fetch of a join")
			return
		}
		fetch = true
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	var resp protocol.QueryResponse
	switch target {
	case query.TargetBlob:
		resp, err = s.blobPage(q, limit)
	default:
		resp, err = s.statementPage(q, limit, fetch)
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) statementPage(q *query.Query, limit int, fetch bool) (protocol.QueryResponse, error) {
	var after *uuid.UUID
	if len(q.After) > 0 {
		st, ok := q.After[0].(*value.Statement)
		if !ok {
			return protocol.QueryResponse{}, qderr.Userf("cursor %s is not a statement", q.After[0])
		}
		h, _ := st.Handle()
		after = &h
	}

	records, more, err := s.store.Page(after, limit)
	if err != nil {
		return protocol.QueryResponse{}, err
	}
	resp := protocol.QueryResponse{
		Statements: make(map[string][3]string),
		References: make([]string, 0, len(records)),
		More:       more,
	}
	for _, rec := range records {
		resp.References = append(resp.References, rec.Ref())
		resp.Statements[rec.Ref()] = rec.Triple
	}
	if fetch {
		meta, err := s.store.Meta(records)
		if err != nil {
			return protocol.QueryResponse{}, err
		}
		related, err := s.store.Related(slices.Concat(records, meta))
		if err != nil {
			return protocol.QueryResponse{}, err
		}
		for _, rec := range slices.Concat(meta, related) {
			resp.Statements[rec.Ref()] = rec.Triple
		}
	}
	return resp, nil
}

func (s *Server) blobPage(q *query.Query, limit int) (protocol.QueryResponse, error) {
	var after string
	if len(q.After) > 0 {
		blob, ok := q.After[0].(*value.Blob)
		if !ok {
			return protocol.QueryResponse{}, qderr.Userf("cursor %s is not a blob", q.After[0])
		}
		after = blob.String()
	}

	files, order, more, err := s.store.Files(after, limit)
	if err != nil {
		return protocol.QueryResponse{}, err
	}
	return protocol.QueryResponse{
		Statements: map[string][3]string{},
		References: order,
		Files:      files,
		More:       more,
	}, nil
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	var rows []protocol.TransactionRow
	if !s.readJSON(w, r, &rows) {
		return
	}
	refs, err := s.store.Transact(rows)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, protocol.TransactionResponse{References: refs})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rows []protocol.Row
	if !s.readJSON(w, r, &rows) {
		return
	}
	refs, err := s.store.Create(rows)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, protocol.CreateResponse{References: refs})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.All()
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	resp := protocol.ExportResponse{Statements: make([]protocol.Row, 0, len(records))}
	for _, rec := range records {
		resp.Statements = append(resp.Statements, rec.Row())
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	v, err := value.Deserialize(ref)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := protocol.GetResponse{Reference: ref, Statements: map[string][3]string{}}
	switch t := v.(type) {
	case *value.Statement:
		h, _ := t.Handle()
		rec, err := s.store.Get(h)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		related, err := s.store.Related([]Record{rec})
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		for _, st := range append(related, rec) {
			resp.Statements[st.Ref()] = st.Triple
		}
	case *value.Blob:
		files, err := s.store.FilesOf(t)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		if len(files) == 0 {
			http.NotFound(w, r)
			return
		}
		resp.Files = map[string][]string{ref: files}
	default:
		s.writeError(w, http.StatusBadRequest, "not a reference", ref)
		return
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body", err.Error())
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

// writeJSON writes v, zstd-compressed when the client accepts it.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "zstd") {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
		return
	}

	w.Header().Set("Content-Encoding", "zstd")
	w.WriteHeader(status)
	enc, err := zstd.NewWriter(w)
	if err != nil {
		log.Printf("Error: creating zstd writer: %v", err)
		return
	}
	defer enc.Close()
	_ = json.NewEncoder(enc).Encode(v)
}

// writeFailure maps an error to a status code.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, qderr.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, qderr.ErrValue), errors.Is(err, qderr.ErrProtocol), errors.Is(err, qderr.ErrUser):
		s.writeError(w, http.StatusBadRequest, "bad request", err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, kind, message string) {
	log.Printf("Error: %s: %s", kind, message)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": message})
}
