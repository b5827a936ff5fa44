package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/EnrollSync/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultPromoteInterval = 5 * time.Second
	DefaultGaugeInterval   = 15 * time.Second
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue           *Queue
	promoteInterval time.Duration
	gaugeInterval   time.Duration
	retryTicker     *time.Ticker
	gaugeTicker     *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// NewManager wraps a queue with the delayed-job promoter and the depth gauge.
func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:           queue,
		promoteInterval: DefaultPromoteInterval,
		gaugeInterval:   DefaultGaugeInterval,
		stopCh:          make(chan struct{}),
	}
}

// InitManager sets up the global manager once. Later calls return the
// existing instance.
func InitManager(queue *Queue) *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(queue)
	})
	return globalManager
}

// GetManager returns the global job queue manager, nil before InitManager.
func GetManager() *Manager {
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Promote delayed retries whose backoff elapsed
	m.retryTicker = time.NewTicker(m.promoteInterval)
	m.wg.Add(1)
	go m.retryWorker(m.stopCh)

	m.gaugeTicker = time.NewTicker(m.gaugeInterval)
	m.wg.Add(1)
	go m.gaugeWorker(m.stopCh)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.retryTicker != nil {
		m.retryTicker.Stop()
	}
	if m.gaugeTicker != nil {
		m.gaugeTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// retryWorker moves due delayed jobs back to the pending queue
func (m *Manager) retryWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started retry promoter (interval: %s)", m.promoteInterval)

	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Retry promoter stopping")
			return
		case <-m.retryTicker.C:
			n, err := m.queue.PromoteDueJobs(ctx)
			if err != nil {
				log.Errorf("[JobQueue Manager] Error promoting delayed jobs: %v", err)
				continue
			}
			if n > 0 {
				log.Debugf("[JobQueue Manager] Promoted %d delayed jobs", n)
			}
		}
	}
}

// gaugeWorker publishes queue depths to Prometheus
func (m *Manager) gaugeWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Gauge worker stopping")
			return
		case <-m.gaugeTicker.C:
			if err := m.UpdateQueueGauges(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Queue gauge update error: %v", err)
			}
		}
	}
}

// UpdateQueueGauges sets the queue depth gauge from the current stats.
func (m *Manager) UpdateQueueGauges(ctx context.Context) error {
	stats, err := m.queue.Stats(ctx)
	if err != nil {
		return err
	}
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
	metrics.QueueDepth.WithLabelValues("processing").Set(float64(stats.Processing))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(stats.Delayed))
	return nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
