// =============================================================================
// 文件: internal/transport/rtt.go
// 描述: RTT 估算器 - 指数加权滑动平均 (RFC 6298 系数)
// =============================================================================
package transport

import "time"

const (
	rttAlpha = 0.125 // estimatedRTT 平滑系数
	rttBeta  = 0.25  // devRTT 平滑系数
)

// rttEstimator 自适应重传超时估算。
// 调用方 (Conn) 持有锁, 此类型本身不做并发保护。
type rttEstimator struct {
	estimated time.Duration
	dev       time.Duration
	rto       time.Duration

	rtoMin time.Duration
	rtoMax time.Duration

	hasSample bool
}

func newRTTEstimator(cfg *Config) *rttEstimator {
	return &rttEstimator{
		rto:    cfg.RTOInit,
		rtoMin: cfg.RTOMin,
		rtoMax: cfg.RTOMax,
	}
}

// addSample 喂入一个 RTT 样本。首个样本直接作为估计值, 偏差取样本的一半;
// 之后按 estimated = (1-α)·estimated + α·sample,
// dev = (1-β)·dev + β·|sample - estimated| 更新。
func (e *rttEstimator) addSample(sample time.Duration) {
	if sample <= 0 {
		return
	}

	if !e.hasSample {
		e.estimated = sample
		e.dev = sample / 2
		e.hasSample = true
	} else {
		diff := e.estimated - sample
		if diff < 0 {
			diff = -diff
		}
		e.dev = time.Duration((1-rttBeta)*float64(e.dev) + rttBeta*float64(diff))
		e.estimated = time.Duration((1-rttAlpha)*float64(e.estimated) + rttAlpha*float64(sample))
	}

	e.rto = e.estimated + 4*e.dev
	if e.rto < e.rtoMin {
		e.rto = e.rtoMin
	}
	if e.rto > e.rtoMax {
		e.rto = e.rtoMax
	}
}

// timeout 当前重传超时间隔
func (e *rttEstimator) timeout() time.Duration {
	return e.rto
}
