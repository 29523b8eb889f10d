package backend_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agrosensorhub.dev/hub/internal/backend"
)

var _ = Describe("Models", func() {
	Describe("table names", func() {
		It("should map every model to its table", func() {
			Expect(backend.Device{}.TableName()).To(Equal("devices"))
			Expect(backend.SensorActivity{}.TableName()).To(Equal("sensor_activities"))
			Expect(backend.Notification{}.TableName()).To(Equal("notifications"))
		})
	})

	Describe("SensorActivity", func() {
		It("should initialize with absent measurements", func() {
			activity := backend.SensorActivity{}
			Expect(activity.EnvHumidity).To(BeNil())
			Expect(activity.EnvTemperature).To(BeNil())
			for _, v := range activity.GroundSensors() {
				Expect(v).To(BeNil())
			}
		})

		It("should return ground channels in order", func() {
			activity := backend.SensorActivity{
				GroundSensor1: ptr(1.0),
				GroundSensor3: ptr(3.0),
				GroundSensor6: ptr(6.0),
			}

			ground := activity.GroundSensors()
			Expect(*ground[0]).To(Equal(1.0))
			Expect(ground[1]).To(BeNil())
			Expect(*ground[2]).To(Equal(3.0))
			Expect(*ground[5]).To(Equal(6.0))
		})
	})

	Describe("Notification", func() {
		It("should start unread", func() {
			Expect(backend.Notification{}.IsRead).To(BeFalse())
		})
	})
})
