package backend

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agrosensorhub.dev/hub/pkg/hubrpc"
	"agrosensorhub.dev/hub/pkg/mq"
	"agrosensorhub.dev/hub/pkg/telemetry"
)

var _ = Describe("Queue ingestion E2E", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	publish := func(client *mq.Client, v any, contentType string) {
		body, err := telemetry.Encode(v, contentType)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Push(ctx, mq.Message{ContentType: contentType, Body: body})).To(Succeed())
	}

	latest := func(mac string) func(g Gomega) hubrpc.Activity {
		return func(g Gomega) hubrpc.Activity {
			var a hubrpc.Activity
			status, raw := call(http.MethodGet, "/sensor-activities/device/"+mac+"/latest", nil)
			g.Expect(status).To(Equal(http.StatusOK))
			g.Expect(decode(raw, &a)).To(Succeed())
			return a
		}
	}

	deviceName := func(mac string) func(g Gomega) string {
		return func(g Gomega) string {
			var d deviceResponse
			status, raw := call(http.MethodGet, "/devices/"+mac, nil)
			g.Expect(status).To(Equal(http.StatusOK))
			g.Expect(decode(raw, &d)).To(Succeed())
			return d.Name
		}
	}

	Describe("Readings queue", func() {
		It("should store JSON readings", func() {
			mac := newMAC()
			zone := "Invernadero 3 - Fresa"
			humidity := 71.234

			publish(readingPublisher, &telemetry.Reading{MACAddress: mac, Zone: &zone, EnvHumidity: &humidity}, mq.ContentTypeJSON)

			Eventually(latest(mac)).Should(And(
				HaveField("DeviceID", mac),
				HaveField("EnvHumidity", HaveValue(Equal(71.23))),
			))
			Eventually(deviceName(mac)).Should(Equal(zone))
		})

		It("should store protobuf readings", func() {
			mac := newMAC()
			temperature := 19.5

			publish(readingPublisher, &telemetry.Reading{MACAddress: mac, EnvTemperature: &temperature}, mq.ContentTypeProtobuf)

			Eventually(latest(mac)).Should(HaveField("EnvTemperature", HaveValue(Equal(19.5))))
		})

		It("should drop invalid readings and keep consuming", func() {
			humidity := 150.0
			bad := newMAC()
			publish(readingPublisher, &telemetry.Reading{MACAddress: bad, EnvHumidity: &humidity}, mq.ContentTypeJSON)
			Expect(readingPublisher.Push(ctx, mq.Message{ContentType: mq.ContentTypeJSON, Body: []byte("{not json")})).To(Succeed())

			good := newMAC()
			publish(readingPublisher, &telemetry.Reading{MACAddress: good}, mq.ContentTypeJSON)

			Eventually(latest(good)).Should(HaveField("DeviceID", good))
			Consistently(func() int {
				status, _ := call(http.MethodGet, "/sensor-activities/device/"+bad+"/latest", nil)
				return status
			}, "1s").Should(Equal(http.StatusNotFound))
		})
	})

	Describe("Device queue", func() {
		It("should register announced devices", func() {
			mac := newMAC()
			publish(devicePublisher, &telemetry.DeviceAnnouncement{MACAddress: mac, Name: name("Vivero")}, mq.ContentTypeJSON)

			Eventually(deviceName(mac)).Should(Equal("Vivero"))
		})

		It("should rename devices that already exist", func() {
			mac := newMAC()
			callJSON(http.MethodPost, "/devices", deviceBody{MACAddress: mac, Name: name("Antes")}, http.StatusCreated, nil)

			publish(devicePublisher, &telemetry.DeviceAnnouncement{MACAddress: mac, Name: name("Después")}, mq.ContentTypeProtobuf)

			Eventually(deviceName(mac)).Should(Equal("Después"))
		})
	})
})
