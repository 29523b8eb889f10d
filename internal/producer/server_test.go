package producer_test

import (
	"context"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agrosensorhub.dev/hub/internal/producer"
	"agrosensorhub.dev/hub/pkg/mq"
	"agrosensorhub.dev/hub/pkg/mq/mock"
)

// fakeDialer hands out mock clients and remembers them per queue.
type fakeDialer struct {
	mu      sync.Mutex
	clients map[string][]*mock.MockClient
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{clients: make(map[string][]*mock.MockClient)}
}

func (d *fakeDialer) dial(queueName string, _ *slog.Logger) mq.ClientInterface {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := mock.NewMockClient()
	d.clients[queueName] = append(d.clients[queueName], c)
	return c
}

func (d *fakeDialer) queue(name string) []*mock.MockClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[name]
}

func (d *fakeDialer) messages(name string) int {
	n := 0
	for _, c := range d.queue(name) {
		n += len(c.Messages())
	}
	return n
}

var _ = Describe("Producer Server", func() {
	var (
		logger *slog.Logger
		dialer *fakeDialer
	)

	newConfig := func() *producer.ServerConfig {
		return &producer.ServerConfig{
			Logger:          logger,
			RabbitMQURL:     "amqp://localhost:5672",
			QueueName:       "sensor_activity",
			DeviceQueueName: "device",
			ProducerCount:   2,
			Interval:        10 * time.Millisecond,
			Dial:            dialer.dial,
		}
	}

	BeforeEach(func() {
		logger = newTestLogger()
		dialer = newFakeDialer()
	})

	Describe("NewServer", func() {
		It("should create one client pair per producer", func() {
			cfg := newConfig()
			cfg.ProducerCount = 3

			server, err := producer.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
			Expect(dialer.queue("sensor_activity")).To(HaveLen(3))
			Expect(dialer.queue("device")).To(HaveLen(3))
		})

		It("should accept the protobuf encoding", func() {
			cfg := newConfig()
			cfg.ContentType = "protobuf"
			_, err := producer.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject a nil config", func() {
			_, err := producer.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
		})

		DescribeTable("invalid configurations",
			func(mutate func(*producer.ServerConfig), message string) {
				cfg := newConfig()
				mutate(cfg)

				server, err := producer.NewServer(cfg)
				Expect(err).To(MatchError(ContainSubstring(message)))
				Expect(server).To(BeNil())
			},
			Entry("zero producers", func(c *producer.ServerConfig) { c.ProducerCount = 0 }, "producer count must be greater than 0"),
			Entry("negative producers", func(c *producer.ServerConfig) { c.ProducerCount = -1 }, "producer count must be greater than 0"),
			Entry("zero interval", func(c *producer.ServerConfig) { c.Interval = 0 }, "interval must be greater than 0"),
			Entry("negative interval", func(c *producer.ServerConfig) { c.Interval = -time.Second }, "interval must be greater than 0"),
			Entry("missing logger", func(c *producer.ServerConfig) { c.Logger = nil }, "logger is required"),
			Entry("missing readings queue", func(c *producer.ServerConfig) { c.QueueName = "" }, "queue names cannot be empty"),
			Entry("missing device queue", func(c *producer.ServerConfig) { c.DeviceQueueName = "" }, "queue names cannot be empty"),
			Entry("unknown encoding", func(c *producer.ServerConfig) { c.ContentType = "xml" }, "unsupported content type"),
			Entry("negative fleet size", func(c *producer.ServerConfig) { c.DevicesPerProducer = -2 }, "device count cannot be negative"),
		)

		It("should close already dialed clients when a producer cannot be built", func() {
			cfg := newConfig()
			cfg.DevicesPerProducer = -1

			_, err := producer.NewServer(cfg)
			Expect(err).To(HaveOccurred())
			for _, c := range append(dialer.queue("sensor_activity"), dialer.queue("device")...) {
				Expect(c.CloseCalls).To(Equal(1))
			}
		})

		It("should dial RabbitMQ by default", func() {
			cfg := newConfig()
			cfg.Dial = nil
			cfg.RabbitMQURL = "amqp://invalid:5672"
			cfg.ProducerCount = 1

			server, err := producer.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Shutdown()).To(Succeed())
		})
	})

	Describe("Run", func() {
		It("should announce devices and publish readings until canceled", func() {
			cfg := newConfig()
			cfg.DevicesPerProducer = 2

			server, err := producer.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- server.Run(ctx)
			}()

			Eventually(func() int { return dialer.messages("device") }).Should(Equal(4))
			Eventually(func() int { return dialer.messages("sensor_activity") }).Should(BeNumerically(">=", 4))

			cancel()
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))

			for _, c := range append(dialer.queue("sensor_activity"), dialer.queue("device")...) {
				Expect(c.CloseCalls).To(Equal(1))
			}
		})

		It("should return immediately with a canceled context", func() {
			server, err := producer.NewServer(newConfig())
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			Expect(server.Run(ctx)).To(Succeed())
		})

		It("should keep publishing when pushes fail", func() {
			server, err := producer.NewServer(newConfig())
			Expect(err).NotTo(HaveOccurred())
			for _, c := range dialer.queue("sensor_activity") {
				c.PushError = context.DeadlineExceeded
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- server.Run(ctx)
			}()

			// Failed pushes are still recorded by the mock.
			Eventually(func() int { return dialer.messages("sensor_activity") }).Should(BeNumerically(">=", 3))

			cancel()
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))
		})
	})

	Describe("Shutdown", func() {
		It("should close every client once", func() {
			server, err := producer.NewServer(newConfig())
			Expect(err).NotTo(HaveOccurred())

			Expect(server.Shutdown()).To(Succeed())
			Expect(server.Shutdown()).To(Succeed())

			for _, c := range append(dialer.queue("sensor_activity"), dialer.queue("device")...) {
				Expect(c.CloseCalls).To(Equal(1))
			}
		})

		It("should stop a running server", func() {
			server, err := producer.NewServer(newConfig())
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() {
				done <- server.Run(context.Background())
			}()

			Eventually(func() int { return dialer.messages("sensor_activity") }).Should(BeNumerically(">=", 2))

			Expect(server.Shutdown()).To(Succeed())
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))

			published := dialer.messages("sensor_activity")
			Consistently(func() int { return dialer.messages("sensor_activity") }, 100*time.Millisecond).Should(Equal(published))
			for _, c := range append(dialer.queue("sensor_activity"), dialer.queue("device")...) {
				Expect(c.CloseCalls).To(Equal(1))
			}
		})

		It("should return at once when shut down before running", func() {
			server, err := producer.NewServer(newConfig())
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Shutdown()).To(Succeed())

			done := make(chan error, 1)
			go func() {
				done <- server.Run(context.Background())
			}()

			Eventually(done, 2*time.Second).Should(Receive(BeNil()))
			Expect(dialer.messages("sensor_activity")).To(BeZero())
		})
	})

	Describe("Concurrent Server Creation", func() {
		It("should handle concurrent NewServer calls", func() {
			results := make(chan error, 5)

			for range 5 {
				go func() {
					_, err := producer.NewServer(newConfig())
					results <- err
				}()
			}

			for range 5 {
				Eventually(results).Should(Receive(BeNil()))
			}
		})
	})
})
