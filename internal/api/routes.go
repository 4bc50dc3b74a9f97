package api

import (
	"net/http"

	"github.com/char5742/handycombo/internal/dispatch"
)

// ルートの設定
func (s *Server) setupRoutes(router *http.ServeMux) {
	// サービス関連のエンドポイント
	router.HandleFunc("GET /api/status", s.handleStatus)
	router.HandleFunc("GET /api/combos", s.handleCombos)

	// 切り替え関連のエンドポイント
	router.HandleFunc("GET /api/toggles", s.handleGetToggles)
	router.HandleFunc("POST /api/toggles/{name}", s.handleFlipToggle)

	// ヘルスチェック用エンドポイント
	router.HandleFunc("GET /api/health", s.handleHealthCheck)

	if s.metrics != nil {
		router.Handle("GET /metrics", s.metrics.Handler())
	}
}

// 状態取得ハンドラ
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Status())
}

type comboResponse struct {
	Name   string   `json:"name"`
	Class  string   `json:"class"`
	Steps  []string `json:"steps"`
	Action string   `json:"action"`
}

// コンボ一覧ハンドラ。優先順に返す
func (s *Server) handleCombos(w http.ResponseWriter, r *http.Request) {
	defs := s.service.Table().Combos
	combos := make([]comboResponse, 0, len(defs))
	for _, d := range defs {
		c := comboResponse{Name: d.Name, Class: d.Class.String(), Action: d.Action}
		for _, st := range d.Steps {
			c.Steps = append(c.Steps, st.String())
		}
		combos = append(combos, c)
	}
	s.writeJSON(w, http.StatusOK, combos)
}

// 切り替え状態取得ハンドラ
func (s *Server) handleGetToggles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Toggles().Snapshot())
}

// 切り替えハンドラ
func (s *Server) handleFlipToggle(w http.ResponseWriter, r *http.Request) {
	sw, err := dispatch.ParseSwitch(r.PathValue("name"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	st := s.service.Toggles().Flip(sw)
	s.log.Info().Stringer("toggle", sw).Interface("state", st).Msg("APIから状態を切り替えました")
	s.writeJSON(w, http.StatusOK, st)
}

// ヘルスチェックハンドラ
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.service.IsRunning() {
		status = "stopped"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
