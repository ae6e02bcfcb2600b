// Package httpapi serves the read API, operator endpoints and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/persistence/indexdb"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
)

// Index is the read model used for listings.
type Index interface {
	GetBoard(ctx context.Context, address string) (indexdb.BoardRow, error)
	ListBoards(ctx context.Context, target string, limit int) ([]indexdb.BoardRow, error)
	ListPosts(ctx context.Context, f indexdb.PostFilter) ([]indexdb.PostRow, error)
	RecentJournal(ctx context.Context, n int) ([]indexdb.JournalRow, error)
}

type Deps struct {
	Runtime *runtime.Runtime
	// Index is optional; listing routes answer 503 without it.
	Index    Index
	WS       http.Handler
	Gatherer prometheus.Gatherer
	Logger   *log.Logger
	// Admin enables /admin/v1, reachable from loopback only.
	Admin bool
}

type api struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	a := &api{Deps: d}
	if a.Gatherer == nil {
		a.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if a.Logger != nil {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: a.Logger, NoColor: true}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/events", a.events)
		r.Get("/address/board", a.boardAddress)
		r.Get("/boards", a.listBoards)
		r.Get("/boards/{address}", a.getBoard)
		r.Get("/boards/{address}/index", a.getIndexedBoard)
		r.Get("/boards/{address}/posts", a.listPosts)
		r.Get("/boards/{address}/posts/{id}", a.getPost)
		r.Get("/balances/{key}", a.balance)
		if a.WS != nil {
			r.Handle("/ws", a.WS)
		}
	})

	if a.Admin {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Get("/state", a.state)
			r.Post("/snapshot", a.snapshot)
			r.Post("/airdrop", a.adminOp(runtime.OpAirdrop))
			r.Post("/assets/class", a.adminOp(runtime.OpAssetClass))
			r.Post("/assets/mint", a.adminOp(runtime.OpAssetMint))
			r.Post("/assets/nft", a.adminOp(runtime.OpAssetNFT))
		})
	}
	return r
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Runtime.Status())
}

func (a *api) events(w http.ResponseWriter, r *http.Request) {
	since, err := queryUint(r, "since", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	items, next, err := a.Runtime.EventsAfter(r.Context(), since, int(limit))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
		return
	}
	if items == nil {
		items = []protocol.EventBatchItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items, "next_cursor": next})
}

func (a *api) boardAddress(w http.ResponseWriter, r *http.Request) {
	target, err := ledger.ParseKey(r.URL.Query().Get("target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, "target: "+err.Error())
		return
	}
	subject := r.URL.Query().Get("subject")
	addr := postbox.BoardAddress(a.Runtime.Program().ID(), target, subject)
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "target": target, "subject": subject})
}

func (a *api) getBoard(w http.ResponseWriter, r *http.Request) {
	addr, ok := keyParam(w, r, "address")
	if !ok {
		return
	}
	v, err := a.Runtime.ReadBoard(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) getPost(w http.ResponseWriter, r *http.Request) {
	addr, ok := keyParam(w, r, "address")
	if !ok {
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, "post id: "+err.Error())
		return
	}
	v, err := a.Runtime.ReadPost(r.Context(), addr, uint32(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) balance(w http.ResponseWriter, r *http.Request) {
	k, ok := keyParam(w, r, "key")
	if !ok {
		return
	}
	bal, err := a.Runtime.Balance(r.Context(), k)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": k, "balance": bal})
}

func (a *api) getIndexedBoard(w http.ResponseWriter, r *http.Request) {
	if !a.requireIndex(w) {
		return
	}
	addr, ok := keyParam(w, r, "address")
	if !ok {
		return
	}
	b, err := a.Index.GetBoard(r.Context(), addr.String())
	if errors.Is(err, indexdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, protocol.ErrBoardNotFound, "board not indexed")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *api) listBoards(w http.ResponseWriter, r *http.Request) {
	if !a.requireIndex(w) {
		return
	}
	target := strings.TrimSpace(r.URL.Query().Get("target"))
	if target != "" {
		k, err := ledger.ParseKey(target)
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, "target: "+err.Error())
			return
		}
		target = k.String()
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	rows, err := a.Index.ListBoards(r.Context(), target, int(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	if rows == nil {
		rows = []indexdb.BoardRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"boards": rows})
}

func (a *api) listPosts(w http.ResponseWriter, r *http.Request) {
	if !a.requireIndex(w) {
		return
	}
	addr, ok := keyParam(w, r, "address")
	if !ok {
		return
	}
	q := r.URL.Query()
	f := indexdb.PostFilter{Board: addr.String(), IncludeDeleted: q.Get("include_deleted") == "true"}
	switch rt := strings.TrimSpace(q.Get("reply_to")); rt {
	case "":
	case "none":
		f.TopLevel = true
	default:
		k, err := ledger.ParseKey(rt)
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, "reply_to: "+err.Error())
			return
		}
		f.ReplyTo = k.String()
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	offset, err := queryUint(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	f.Limit, f.Offset = int(limit), int(offset)
	rows, err := a.Index.ListPosts(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	if rows == nil {
		rows = []indexdb.PostRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": rows})
}

func (a *api) state(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": a.Runtime.Status()}
	if a.Index != nil {
		if rows, err := a.Index.RecentJournal(r.Context(), 20); err == nil {
			resp["recent"] = rows
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) snapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	seq, err := a.Runtime.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "seq": seq, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "seq": seq})
}

// adminRequest carries an operator instruction. Signer pays for any records
// the op creates; for airdrops it defaults to the recipient.
type adminRequest struct {
	Signer string          `json:"signer"`
	Args   json.RawMessage `json:"args"`
}

func (a *api) adminOp(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adminRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
			return
		}
		signer := ledger.Zero
		if s := strings.TrimSpace(req.Signer); s != "" {
			signer = ledger.ParseOrNamed(s)
		} else if op == runtime.OpAirdrop {
			var aa runtime.AirdropArgs
			if err := json.Unmarshal(req.Args, &aa); err == nil {
				signer = aa.To
			}
		}
		if signer.IsZero() {
			writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, "signer is required")
			return
		}
		res, err := a.Runtime.Submit(r.Context(), runtime.Instruction{
			ReqID:  "admin-" + uuid.NewString(),
			Signer: signer,
			Op:     op,
			Args:   req.Args,
		})
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
			return
		}
		status := http.StatusOK
		switch {
		case res.OK:
		case res.Code == protocol.ErrBusy:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, res.Msg())
	}
}

func (a *api) requireIndex(w http.ResponseWriter) bool {
	if a.Index == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrInternal, "index disabled")
		return false
	}
	return true
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func keyParam(w http.ResponseWriter, r *http.Request, name string) (ledger.Key, bool) {
	k, err := ledger.ParseKey(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrBadRequest, name+": "+err.Error())
		return ledger.Key{}, false
	}
	return k, true
}

func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.New(name + ": not an unsigned integer")
	}
	return v, nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := protocol.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case protocol.ErrBoardNotFound, protocol.ErrPostNotFound, protocol.ErrRecordNotFound:
		status = http.StatusNotFound
	case protocol.ErrBadRequest:
		status = http.StatusBadRequest
	}
	if errors.Is(err, runtime.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
		status, code = http.StatusServiceUnavailable, protocol.ErrBusy
	}
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "numeric_code": protocol.NumericCode(code), "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
