// =============================================================================
// 文件: internal/metrics/metrics_test.go
// 描述: 指标收集器与服务测试
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// fakeConnStats 固定数值的统计提供者
type fakeConnStats struct{}

func (fakeConnStats) GetBytesSent() uint64        { return 1000 }
func (fakeConnStats) GetBytesReceived() uint64    { return 2000 }
func (fakeConnStats) GetSegmentsSent() uint64     { return 30 }
func (fakeConnStats) GetSegmentsReceived() uint64 { return 40 }
func (fakeConnStats) GetAcksSent() uint64         { return 25 }
func (fakeConnStats) GetAcksReceived() uint64     { return 28 }
func (fakeConnStats) GetRetransmits() uint64      { return 3 }
func (fakeConnStats) GetDupSegments() uint64      { return 2 }
func (fakeConnStats) GetInFlightBytes() int       { return 512 }
func (fakeConnStats) GetPeerWindow() uint16       { return 4096 }
func (fakeConnStats) GetSRTTSeconds() float64     { return 0.2 }
func (fakeConnStats) GetRTOSeconds() float64      { return 0.6 }
func (fakeConnStats) GetStateName() string        { return "ESTABLISHED" }
func (fakeConnStats) GetUptimeSeconds() float64   { return 42 }

func TestConnCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewConnCollector("test-conn", fakeConnStats{})

	if err := registry.Register(collector); err != nil {
		t.Fatalf("注册收集器失败: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("收集指标失败: %v", err)
	}

	byName := map[string]float64{}
	stateLabel := ""
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				byName[fam.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				byName[fam.GetName()] = m.GetGauge().GetValue()
			}
			if fam.GetName() == "minitcp_conn_state" {
				for _, l := range m.GetLabel() {
					if l.GetName() == "state" {
						stateLabel = l.GetValue()
					}
				}
			}
		}
	}

	expected := map[string]float64{
		"minitcp_conn_bytes_sent_total":     1000,
		"minitcp_conn_bytes_received_total": 2000,
		"minitcp_conn_retransmits_total":    3,
		"minitcp_conn_dup_segments_total":   2,
		"minitcp_conn_in_flight_bytes":      512,
		"minitcp_conn_peer_window_bytes":    4096,
		"minitcp_conn_srtt_seconds":         0.2,
		"minitcp_conn_rto_seconds":          0.6,
		"minitcp_conn_state":                1,
		"minitcp_conn_uptime_seconds":       42,
	}
	for name, want := range expected {
		got, ok := byName[name]
		if !ok {
			t.Errorf("缺少指标 %s", name)
			continue
		}
		if got != want {
			t.Errorf("指标 %s 数值不正确: got %v, want %v", name, got, want)
		}
	}

	if stateLabel != "ESTABLISHED" {
		t.Errorf("状态标签不正确: got %q, want ESTABLISHED", stateLabel)
	}
}

func TestConnCollectorExposition(t *testing.T) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewConnCollector("c1", fakeConnStats{}))

	// 经 promhttp 导出的文本格式携带 conn 标签
	srv := httptest.NewServer(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("抓取指标失败: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取响应失败: %v", err)
	}
	body := string(raw)

	if !strings.Contains(body, `minitcp_conn_bytes_sent_total{conn="c1"} 1000`) {
		t.Error("导出文本应包含带 conn 标签的发送字节计数")
	}
	if !strings.Contains(body, `minitcp_conn_state{conn="c1",state="ESTABLISHED"} 1`) {
		t.Error("导出文本应包含连接状态指标")
	}
}

func TestServerHealth(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/metrics", "/health", false)

	t.Run("健康", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("状态码不正确: got %d, want 200", rec.Code)
		}
		var status HealthStatus
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("解析健康响应失败: %v", err)
		}
		if status.Status != "ok" {
			t.Errorf("健康状态不正确: %s", status.Status)
		}
	})

	t.Run("不健康", func(t *testing.T) {
		s.SetHealthy(false)
		defer s.SetHealthy(true)

		rec := httptest.NewRecorder()
		s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("状态码不正确: got %d, want 503", rec.Code)
		}
	})
}

func TestServerRegisterUnregister(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/metrics", "/health", false)
	collector := NewConnCollector("lifecycle", fakeConnStats{})

	if err := s.RegisterCollector(collector); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	// 重复注册同一描述符应失败
	if err := s.RegisterCollector(NewConnCollector("lifecycle", fakeConnStats{})); err == nil {
		t.Error("重复注册应返回错误")
	}
	if !s.UnregisterCollector(collector) {
		t.Error("注销已注册的收集器应成功")
	}
	// 注销后可再次注册
	if err := s.RegisterCollector(collector); err != nil {
		t.Errorf("注销后重新注册失败: %v", err)
	}
}

func TestServerStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/metrics", "/health", false)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("关闭失败: %v", err)
	}
}
