package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"medpolicy/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf 生命周期错误分类到 HTTP 状态码的唯一映射。
func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyFinalized), errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError 写出 {success:false, error}；withOK 为 true 时同时带 ok:false。
// 5xx 的细节只进日志，响应体只给出概要。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, withOK bool) {
	status := statusOf(err)
	msg := models.PublicMessage(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestIDFrom(r.Context()),
			"path":       r.URL.Path,
		}).Error("请求处理失败")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	body := map[string]any{"success": false, "error": msg}
	if withOK {
		body["ok"] = false
	}
	writeJSON(w, status, body)
}

// decode 读取 JSON 请求体；空体视为空对象，由各操作自行报告缺失字段。
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	err := dec.Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooLarge):
		return models.Invalid("request body exceeds %d bytes", tooLarge.Limit)
	default:
		return models.Invalid("invalid JSON body: %v", err)
	}
}

// flexList 接受字符串数组或逗号分隔的字符串。
type flexList []string

func (l *flexList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected an array or a comma-separated string, got %s", b)
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}
