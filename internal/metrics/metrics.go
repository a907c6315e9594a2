package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 는 서버 상태를 나타내는 카운터 모음이다.
// hot path 에서는 atomic 으로만 증가시키고,
// Prometheus 노출은 Register 에서 CounterFunc/GaugeFunc 로 읽어간다.
type Metrics struct {
	// ======================
	// 세션
	// ======================

	// SessionsOpenedTotal - 생성된 세션 수 (idle 세션 포함).
	SessionsOpenedTotal int64

	// SessionsActive - 현재 registry 에 살아있는 세션 수 (gauge).
	SessionsActive int64

	// SessionsReapedTotal - 아무도 조회하지 않아 idle reaper 가 닫은 세션 수.
	// 이 값이 높으면 호출자가 DELETE 없이 세션을 버리고 있다는 신호.
	SessionsReapedTotal int64

	// ======================
	// watch 스트림
	// ======================

	// WatchTimeoutsTotal - 첫 프레임 없이 NoDataTimeout 이 지난 세션 수.
	// 에러가 아니라 "이벤트 없음" 결과이다.
	WatchTimeoutsTotal int64

	// WatchErrorsTotal - transport 실패로 Errored 가 된 연결 수.
	WatchErrorsTotal int64

	// FramesReceivedTotal - 디코딩 성공/실패와 무관하게 수신한 프레임 수.
	FramesReceivedTotal int64

	// FrameParseErrorsTotal - JSON 디코딩에 실패한 프레임 수. 스트림은 계속된다.
	FrameParseErrorsTotal int64

	// FramesDiscardedTotal - ADDED 가 아니라서 버린 프레임 수.
	FramesDiscardedTotal int64

	// RecordsIngestedTotal - Buffer 에 append 된 레코드 수.
	RecordsIngestedTotal int64

	// RecordsAfterCloseTotal - close 이후 도착해서 버린 레코드 수.
	RecordsAfterCloseTotal int64

	// ======================
	// export / store
	// ======================

	// ExportsTotal - submit 된 첨부 수.
	ExportsTotal int64

	// ExportedRecordsTotal - submit 된 첨부에 담긴 레코드 수 합.
	ExportedRecordsTotal int64

	// DispatchDroppedTotal - Dispatcher 큐가 가득 차서 버린 첨부 수.
	DispatchDroppedTotal int64

	// StoreStoredTotal - backend 에 저장 성공한 첨부 수.
	StoreStoredTotal int64

	// StorePutErrorsTotal - backend Put "시도" 실패 횟수 (retry 마다 증가).
	StorePutErrorsTotal int64

	// ======================
	// spool (store 실패분 로컬 보관)
	// ======================

	SpoolEnqueuedTotal     int64
	SpoolReuploadedTotal   int64
	SpoolDroppedTotal      int64
	SpoolFilesExpiredTotal int64
	SpoolFilesCurrent      int64
	SpoolSizeBytes         int64
}

func New() *Metrics {
	return &Metrics{}
}

// Register 는 모든 카운터를 reg 에 등록한다.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	counter := func(name, help string, v *int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "event_attach",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(atomic.LoadInt64(v)) })
	}
	gauge := func(name, help string, v *int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "event_attach",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(atomic.LoadInt64(v)) })
	}

	collectors := []prometheus.Collector{
		counter("sessions_opened_total", "Sessions created", &m.SessionsOpenedTotal),
		gauge("sessions_active", "Sessions currently registered", &m.SessionsActive),
		counter("sessions_reaped_total", "Sessions closed by the idle reaper", &m.SessionsReapedTotal),

		counter("watch_timeouts_total", "Watches that produced no frame before the no-data timeout", &m.WatchTimeoutsTotal),
		counter("watch_errors_total", "Watches that failed at the transport level", &m.WatchErrorsTotal),
		counter("frames_received_total", "Frames received from the event feed", &m.FramesReceivedTotal),
		counter("frame_parse_errors_total", "Frames that could not be decoded", &m.FrameParseErrorsTotal),
		counter("frames_discarded_total", "Decoded frames that were not creation events", &m.FramesDiscardedTotal),
		counter("records_ingested_total", "Records appended to a session buffer", &m.RecordsIngestedTotal),
		counter("records_after_close_total", "Records dropped because the session was already closed", &m.RecordsAfterCloseTotal),

		counter("exports_total", "Attachments submitted", &m.ExportsTotal),
		counter("exported_records_total", "Records contained in submitted attachments", &m.ExportedRecordsTotal),
		counter("dispatch_dropped_total", "Attachments dropped because the dispatch queue was full", &m.DispatchDroppedTotal),
		counter("store_stored_total", "Attachments stored by the backend", &m.StoreStoredTotal),
		counter("store_put_errors_total", "Failed backend put attempts", &m.StorePutErrorsTotal),

		counter("spool_enqueued_total", "Attachments written to the local spool", &m.SpoolEnqueuedTotal),
		counter("spool_reuploaded_total", "Spooled attachments delivered on replay", &m.SpoolReuploadedTotal),
		counter("spool_dropped_total", "Attachments dropped because the spool was full", &m.SpoolDroppedTotal),
		counter("spool_files_expired_total", "Spool files removed by TTL or capacity", &m.SpoolFilesExpiredTotal),
		gauge("spool_files_current", "Spool files on disk", &m.SpoolFilesCurrent),
		gauge("spool_size_bytes", "Spool size on disk", &m.SpoolSizeBytes),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
