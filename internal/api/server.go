package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/char5742/handycombo/internal/metrics"
	"github.com/rs/zerolog"
)

// Server は状態確認用のAPIサーバーを表す構造体
type Server struct {
	server  *http.Server
	service *ComboService
	metrics *metrics.Collector
	log     *zerolog.Logger
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(service *ComboService, m *metrics.Collector, addr string, log *zerolog.Logger) *Server {
	s := &Server{
		service: service,
		metrics: m,
		log:     log,
	}

	// ルーターの設定
	router := http.NewServeMux()
	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start はAPIサーバーを開始する。Stop されるまで戻らない
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("APIサーバーを開始します")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop はAPIサーバーを停止する
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("APIサーバーを停止します...")
	return s.server.Shutdown(ctx)
}

// writeJSON はJSONレスポンスを書き込む
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.log.Warn().Err(err).Msg("JSONエンコードエラー")
		}
	}
}

// writeError はエラーレスポンスを書き込む
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
