package voice

import (
	"sync"
	"time"
)

// Metrics tracks latency for one conversational turn.
// Durations are measured from the moment the user's speech was last heard.
type Metrics struct {
	// Timestamps for key events
	SpeechEndTime    time.Time // Last user transcript of the turn
	FirstAudioTime   time.Time // First model audio chunk
	ResponseDoneTime time.Time // Model turn complete

	// Computed latencies (from speech end)
	FirstAudio   time.Duration
	TotalLatency time.Duration

	// Counts for this conversational turn
	AudioChunksIn  int // Microphone chunks sent to the model
	AudioChunksOut int // Model audio chunks received
	ToolCalls      int
}

// MetricsCollector collects latency metrics during a conversation turn.
// It is goroutine-safe and can be used from multiple callbacks.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics // Recent turns for averaging

	onUpdate func(Metrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, 100),
	}
}

// OnUpdate sets a callback that fires whenever a latency is recorded.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkSpeechEnd records user speech. Until the model answers, each call
// moves the reference point forward.
func (m *MetricsCollector) MarkSpeechEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.FirstAudioTime.IsZero() {
		m.current = Metrics{} // Reset for new turn
	}
	m.current.SpeechEndTime = time.Now()
}

// MarkFirstAudio records when the first audio chunk of a response arrived.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunksOut++
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = time.Now()
		if !m.current.SpeechEndTime.IsZero() {
			m.current.FirstAudio = m.current.FirstAudioTime.Sub(m.current.SpeechEndTime)
		}
		m.notify()
	}
}

// MarkResponseDone records when the response is fully delivered.
func (m *MetricsCollector) MarkResponseDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ResponseDoneTime = time.Now()
	if !m.current.SpeechEndTime.IsZero() {
		m.current.TotalLatency = m.current.ResponseDoneTime.Sub(m.current.SpeechEndTime)
	}
	// Archive this turn
	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
	m.notify()
	m.current = Metrics{}
}

// IncrementAudioIn increments the count of microphone chunks sent.
func (m *MetricsCollector) IncrementAudioIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AudioChunksIn++
}

// IncrementToolCalls adds n tool calls to the current turn.
func (m *MetricsCollector) IncrementToolCalls(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ToolCalls += n
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Turns returns the number of archived turns.
func (m *MetricsCollector) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Average returns average latencies over recent turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.FirstAudio += h.FirstAudio
		avg.TotalLatency += h.TotalLatency
	}

	n := time.Duration(len(m.history))
	avg.FirstAudio /= n
	avg.TotalLatency /= n

	return avg
}

// Reset clears the current turn and the history.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{}
	m.history = m.history[:0]
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// FormatLatency returns a formatted string of current latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.FirstAudio) + " FIRST AUDIO | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
