package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/coderkp/order-fill-tracker/internal/models"
	"github.com/coderkp/order-fill-tracker/internal/repository"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// OrdersRepo is the slice of the repository the API serves from.
type OrdersRepo interface {
	RecentOrders(ctx context.Context, limit int) ([]models.Order, error)
	StatusCounts(ctx context.Context) (map[string]int64, error)
	ListArbPerformance(ctx context.Context, limit int) ([]repository.ArbPerformance, error)
	RecomputeArbPerformance(ctx context.Context) (int64, error)
}

// PipelineStatus exposes live pipeline gauges to the /status endpoint.
// Wired by main, read here.
type PipelineStatus struct {
	Watermark    func() time.Time
	BufferLen    func() int
	Counters     func() (processed, filled int64)
	OKXCursorMs  func() int64
	JoeLastBlock func() int64
}

type Server struct {
	repo       OrdersRepo
	pipeline   *PipelineStatus
	hub        *Hub
	httpServer *http.Server
	startedAt  time.Time
}

func NewServer(repo OrdersRepo, pipeline *PipelineStatus, hub *Hub, port, adminJWTSecret string) *Server {
	s := &Server{
		repo:      repo,
		pipeline:  pipeline,
		hub:       hub,
		startedAt: time.Now(),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/ws/fills", s.handleFillsWebSocket)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/orders/recent", s.handleRecentOrders).Methods("GET")
	v1.HandleFunc("/arb/performance", s.handleArbPerformance).Methods("GET")

	admin := r.PathPrefix("/api/v1/admin").Subrouter()
	admin.Use(NewAuthMiddleware(adminJWTSecret).Middleware)
	admin.HandleFunc("/arb/recompute", s.handleRecomputeArb).Methods("POST")

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "commit": BuildCommit})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.repo.StatusCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	payload := map[string]any{
		"commit":         BuildCommit,
		"uptime_sec":     int64(time.Since(s.startedAt).Seconds()),
		"order_counts":   counts,
		"ws_subscribers": s.hub.ClientCount(),
	}
	if s.pipeline != nil {
		processed, filled := s.pipeline.Counters()
		payload["pipeline"] = map[string]any{
			"watermark":      s.pipeline.Watermark().UTC().Format(time.RFC3339),
			"buffer_len":     s.pipeline.BufferLen(),
			"processed":      processed,
			"filled":         filled,
			"okx_cursor_ms":  s.pipeline.OKXCursorMs(),
			"joe_last_block": s.pipeline.JoeLastBlock(),
		}
	}
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleRecentOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	orders, err := s.repo.RecentOrders(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"orders": toOrderViews(orders)})
}

func (s *Server) handleArbPerformance(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1000)
	rows, err := s.repo.ListArbPerformance(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		views = append(views, map[string]any{
			"stitch_id":  row.StitchID,
			"pair":       row.Pair,
			"profit":     row.Profit,
			"updated_at": row.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	json.NewEncoder(w).Encode(map[string]any{"performance": views})
}

func (s *Server) handleRecomputeArb(w http.ResponseWriter, r *http.Request) {
	n, err := s.repo.RecomputeArbPerformance(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"recomputed": n})
}

// orderView is the JSON shape of one order row.
type orderView struct {
	ID               int64          `json:"id"`
	StitchID         *int64         `json:"stitch_id,omitempty"`
	Pair             string         `json:"pair"`
	Price            *string        `json:"price,omitempty"`
	Exchange         string         `json:"exchange"`
	Size             string         `json:"size"`
	Type             string         `json:"type"`
	TradeSide        string         `json:"trade_side"`
	Status           string         `json:"status"`
	ExchangeOrderID  string         `json:"exchange_order_id,omitempty"`
	TransactionHash  *string        `json:"transaction_hash,omitempty"`
	CreatedTime      time.Time      `json:"created_time"`
	LastUpdatedTime  time.Time      `json:"last_updated_time"`
	InputAmount      *string        `json:"input_amount,omitempty"`
	InputToken       *string        `json:"input_token,omitempty"`
	OutputAmount     *string        `json:"output_amount,omitempty"`
	OutputToken      *string        `json:"output_token,omitempty"`
	AverageFillPrice *string        `json:"average_fill_price,omitempty"`
	FeeInfo          map[string]any `json:"fee_info,omitempty"`
}

func toOrderViews(orders []models.Order) []orderView {
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			ID:               o.ID,
			StitchID:         o.StitchID,
			Pair:             o.Pair,
			Price:            nullDecimalString(o.Price),
			Exchange:         o.Exchange,
			Size:             o.Size.String(),
			Type:             o.Type,
			TradeSide:        o.TradeSide,
			Status:           o.Status,
			ExchangeOrderID:  o.ExchangeOrderID,
			TransactionHash:  o.TransactionHash,
			CreatedTime:      o.CreatedTime,
			LastUpdatedTime:  o.LastUpdatedTime,
			InputAmount:      nullDecimalString(o.InputAmount),
			InputToken:       o.InputToken,
			OutputAmount:     nullDecimalString(o.OutputAmount),
			OutputToken:      o.OutputToken,
			AverageFillPrice: nullDecimalString(o.AverageFillPrice),
			FeeInfo:          o.FeeInfo,
		})
	}
	return views
}

func nullDecimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
