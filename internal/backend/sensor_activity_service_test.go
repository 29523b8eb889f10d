package backend_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"agrosensorhub.dev/hub/internal/backend"
	"agrosensorhub.dev/hub/pkg/telemetry"
)

var _ = Describe("SensorActivityService", func() {
	const (
		macA = "35:98:F4:D1:86:51"
		macB = "35:98:F4:D1:86:52"
	)

	var (
		ctx   context.Context
		clock time.Time
		svc   *services
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC)
		svc = newServices(func() time.Time { return clock })
	})

	Describe("NewSensorActivityService", func() {
		It("should reject a nil config", func() {
			_, err := backend.NewSensorActivityService(nil)
			Expect(err).To(HaveOccurred())
		})

		It("should require a transactor", func() {
			_, err := backend.NewSensorActivityService(&backend.SensorActivityServiceConfig{
				Logger: newTestLogger(),
				Stores: svc.store.Stores(),
			})
			Expect(err).To(MatchError("transactor cannot be nil"))
		})
	})

	Describe("Create", func() {
		It("should register an unseen device named after the zone", func() {
			activity, err := svc.sensorActivities.Create(ctx, &telemetry.Reading{
				MACAddress:  macA,
				Zone:        ptr("Zone A"),
				EnvHumidity: ptr(65.5),
			}, backend.SourceHTTP)
			Expect(err).NotTo(HaveOccurred())
			Expect(activity.ID).NotTo(BeZero())
			Expect(activity.DeviceID).To(Equal(macA))
			Expect(*activity.EnvHumidity).To(Equal(65.5))

			device, ok := svc.store.device(macA)
			Expect(ok).To(BeTrue())
			Expect(device.Name).To(Equal("Zone A"))
		})

		It("should name a device after its MAC when the reading has no zone", func() {
			_, err := svc.sensorActivities.Create(ctx, &telemetry.Reading{MACAddress: macA}, backend.SourceHTTP)
			Expect(err).NotTo(HaveOccurred())

			device, _ := svc.store.device(macA)
			Expect(device.Name).To(Equal(macA))
		})

		It("should rename the device when the zone changes", func() {
			_, err := svc.sensorActivities.Create(ctx, &telemetry.Reading{MACAddress: macA, Zone: ptr("Zone A")}, backend.SourceHTTP)
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.sensorActivities.Create(ctx, &telemetry.Reading{MACAddress: macA, Zone: ptr("Zone B")}, backend.SourceAMQP)
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.store.deviceCount()).To(Equal(1))
			Expect(svc.store.activityCount()).To(Equal(2))
			device, _ := svc.store.device(macA)
			Expect(device.Name).To(Equal("Zone B"))
		})

		It("should keep the device name when the reading has no zone", func() {
			svc.store.addDevice(macA, "Greenhouse")

			_, err := svc.sensorActivities.Create(ctx, &telemetry.Reading{MACAddress: macA}, backend.SourceHTTP)
			Expect(err).NotTo(HaveOccurred())

			device, _ := svc.store.device(macA)
			Expect(device.Name).To(Equal("Greenhouse"))
		})

		It("should roll back the device registration when the insert fails", func() {
			svc.store.createActivityErr = errors.New("disk full")

			_, err := svc.sensorActivities.Create(ctx, &telemetry.Reading{MACAddress: macA, Zone: ptr("Zone A")}, backend.SourceHTTP)
			Expect(backend.KindOf(err)).To(Equal(backend.KindInternal))
			Expect(err.Error()).To(ContainSubstring("Error creating sensor activity"))
			Expect(svc.store.deviceCount()).To(BeZero())
		})

		It("should store values unrounded", func() {
			activity, err := svc.sensorActivities.Create(ctx, &telemetry.Reading{
				MACAddress:     macA,
				EnvTemperature: ptr(25.3456),
			}, backend.SourceHTTP)
			Expect(err).NotTo(HaveOccurred())
			Expect(*activity.EnvTemperature).To(Equal(25.3456))
		})
	})

	Describe("read side", func() {
		var seeded backend.SensorActivity

		BeforeEach(func() {
			svc.store.addDevice(macA, "Zone A")
			seeded = svc.store.addActivity(backend.SensorActivity{
				DeviceID:       macA,
				CreatedAt:      clock.Add(-time.Hour),
				EnvHumidity:    ptr(65.555),
				EnvTemperature: ptr(-3.14159),
				GroundSensor1:  ptr(500.004),
				GroundSensor6:  ptr(1.005),
			})
			svc.store.addActivity(backend.SensorActivity{
				DeviceID:  macA,
				CreatedAt: clock.Add(-time.Minute),
				Zone:      ptr("Zone A"),
			})
		})

		It("should round every measurement to two decimals", func() {
			activity, err := svc.sensorActivities.Get(ctx, seeded.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*activity.EnvHumidity).To(Equal(65.56))
			Expect(*activity.EnvTemperature).To(Equal(-3.14))
			Expect(*activity.GroundSensor1).To(Equal(500.0))
			Expect(activity.GroundSensor2).To(BeNil())
			Expect(*activity.GroundSensor6).To(BeNumerically("~", 1.0, 0.011))
		})

		It("should list newest first", func() {
			activities, err := svc.sensorActivities.List(ctx, backend.ActivityFilter{Limit: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(activities).To(HaveLen(2))
			Expect(activities[0].CreatedAt).To(Equal(clock.Add(-time.Minute)))
			Expect(*activities[1].EnvHumidity).To(Equal(65.56))
		})

		It("should apply inclusive date bounds", func() {
			start := clock.Add(-time.Hour)
			end := clock.Add(-time.Hour)
			activities, err := svc.sensorActivities.List(ctx, backend.ActivityFilter{Start: &start, End: &end, Limit: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(activities).To(HaveLen(1))
			Expect(activities[0].ID).To(Equal(seeded.ID))
		})

		It("should report an empty page as not found", func() {
			_, err := svc.sensorActivities.List(ctx, backend.ActivityFilter{Skip: 10, Limit: 10})
			Expect(backend.IsNotFound(err)).To(BeTrue())
			Expect(backend.PublicMessage(err)).To(Equal("No sensor activities found"))
		})

		It("should report an unknown id as not found", func() {
			_, err := svc.sensorActivities.Get(ctx, 999)
			Expect(backend.PublicMessage(err)).To(Equal("Sensor activity with id 999 not found"))
		})

		It("should return the latest reading of a device", func() {
			activity, err := svc.sensorActivities.LatestByMAC(ctx, macA)
			Expect(err).NotTo(HaveOccurred())
			Expect(activity.CreatedAt).To(Equal(clock.Add(-time.Minute)))

			_, err = svc.sensorActivities.LatestByMAC(ctx, macB)
			Expect(backend.PublicMessage(err)).To(Equal("No sensor activity found for device with MAC address " + macB))
		})
	})

	Describe("Zones", func() {
		It("should return an empty list when nothing was reported", func() {
			zones, err := svc.sensorActivities.Zones(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(zones).To(BeEmpty())
		})

		DescribeTable("activity classification",
			func(age time.Duration, status string) {
				svc.store.addDevice(macA, "Zone A")
				svc.store.addActivity(backend.SensorActivity{DeviceID: macA, CreatedAt: clock.Add(-age)})

				zones, err := svc.sensorActivities.Zones(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(zones).To(HaveLen(1))
				Expect(zones[0].Status).To(Equal(status))
			},
			Entry("just reported", time.Duration(0), backend.StatusActive),
			Entry("exactly at the window", 10*time.Minute, backend.StatusActive),
			Entry("one second past the window", 10*time.Minute+time.Second, backend.StatusInactive),
			Entry("hours ago", 3*time.Hour, backend.StatusInactive),
		)

		It("should summarize only the latest reading of each device", func() {
			svc.store.addDevice(macA, "Zone A")
			svc.store.addDevice(macB, "Zone B")
			svc.store.addActivity(backend.SensorActivity{DeviceID: macA, CreatedAt: clock.Add(-time.Hour), EnvTemperature: ptr(10.0)})
			svc.store.addActivity(backend.SensorActivity{DeviceID: macA, CreatedAt: clock.Add(-2 * time.Minute), EnvTemperature: ptr(21.456)})
			svc.store.addActivity(backend.SensorActivity{DeviceID: macB, CreatedAt: clock.Add(-30 * time.Minute)})

			zones, err := svc.sensorActivities.Zones(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(zones).To(HaveLen(2))

			Expect(zones[0].MACAddress).To(Equal(macA))
			Expect(zones[0].Name).To(Equal("Zone A"))
			Expect(zones[0].EnvironmentTemperature).To(Equal(21.46))
			Expect(zones[0].LatestReading).To(Equal(clock.Add(-2 * time.Minute)))

			Expect(zones[1].MACAddress).To(Equal(macB))
			Expect(zones[1].Status).To(Equal(backend.StatusInactive))
			Expect(zones[1].EnvironmentTemperature).To(BeZero())
			Expect(zones[1].EnvironmentHumidity).To(BeZero())
		})

		It("should break timestamp ties by the highest id", func() {
			svc.store.addDevice(macA, "Zone A")
			svc.store.addActivity(backend.SensorActivity{DeviceID: macA, CreatedAt: clock, EnvHumidity: ptr(10.0)})
			svc.store.addActivity(backend.SensorActivity{DeviceID: macA, CreatedAt: clock, EnvHumidity: ptr(20.0)})

			zones, err := svc.sensorActivities.Zones(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(zones).To(HaveLen(1))
			Expect(zones[0].EnvironmentHumidity).To(Equal(20.0))
		})

		It("should expose four clamped planting boxes", func() {
			svc.store.addDevice(macA, "Zone A")
			svc.store.addActivity(backend.SensorActivity{
				DeviceID:      macA,
				CreatedAt:     clock,
				GroundSensor1: ptr(-12.5),
				GroundSensor2: ptr(48.125),
				GroundSensor4: ptr(0.004),
				GroundSensor5: ptr(99.0),
				GroundSensor6: ptr(98.0),
			})

			zones, err := svc.sensorActivities.Zones(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(zones[0].PlantingBoxes).To(Equal([]backend.PlantingBox{
				{Name: "Cajón 1", GroundHumidity: 0},
				{Name: "Cajón 2", GroundHumidity: 48.13},
				{Name: "Cajón 3", GroundHumidity: 0},
				{Name: "Cajón 4", GroundHumidity: 0},
			}))
		})

		It("should fall back to the reading zone and then the MAC for the name", func() {
			svc.store.addActivity(backend.SensorActivity{DeviceID: macA, CreatedAt: clock, Zone: ptr("Orchard")})
			svc.store.addActivity(backend.SensorActivity{DeviceID: macB, CreatedAt: clock.Add(-time.Second)})

			zones, err := svc.sensorActivities.Zones(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(zones[0].Name).To(Equal("Orchard"))
			Expect(zones[1].Name).To(Equal(macB))
		})
	})

	Describe("ExportLastThreeMonths", func() {
		BeforeEach(func() {
			svc.store.addActivity(backend.SensorActivity{
				DeviceID:  macA,
				CreatedAt: clock.Add(-91 * 24 * time.Hour),
			})
			svc.store.addActivity(backend.SensorActivity{
				DeviceID:       macA,
				Zone:           ptr("Zone A"),
				CreatedAt:      clock.Add(-2 * time.Hour),
				EnvHumidity:    ptr(65.555),
				EnvTemperature: ptr(25.3),
				GroundSensor1:  ptr(500.0),
			})
			svc.store.addActivity(backend.SensorActivity{
				DeviceID:  macB,
				CreatedAt: clock.Add(-time.Hour),
			})
		})

		It("should render a CSV of the 90-day window, newest first and unrounded", func() {
			data, err := svc.sensorActivities.ExportLastThreeMonths(ctx, backend.ExportCSV)
			Expect(err).NotTo(HaveOccurred())

			records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(3))
			Expect(records[0]).To(Equal([]string{
				"ID", "Dirección MAC", "Zona", "Humedad Ambiente", "Temperatura Ambiente",
				"Sensor Tierra 1", "Sensor Tierra 2", "Sensor Tierra 3",
				"Sensor Tierra 4", "Sensor Tierra 5", "Sensor Tierra 6",
				"Tiempo de Creación",
			}))
			Expect(records[1][1]).To(Equal(macB))
			Expect(records[2]).To(Equal([]string{
				"2", macA, "Zone A", "65.555", "25.3", "500", "", "", "", "", "",
				"2025-03-09 12:00:00 PM UTC",
			}))
		})

		It("should render the same rows as a workbook", func() {
			data, err := svc.sensorActivities.ExportLastThreeMonths(ctx, backend.ExportXLSX)
			Expect(err).NotTo(HaveOccurred())

			f, err := excelize.OpenReader(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()

			rows, err := f.GetRows(f.GetSheetName(0))
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0][1]).To(Equal("Dirección MAC"))
			Expect(rows[0][11]).To(Equal("Tiempo de Creación"))
			Expect(rows[2][1]).To(Equal(macA))
		})

		It("should render a PDF report", func() {
			data, err := svc.sensorActivities.ExportLastThreeMonths(ctx, backend.ExportPDF)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data[:5])).To(Equal("%PDF-"))
		})

		It("should reject unknown formats", func() {
			_, err := svc.sensorActivities.ExportLastThreeMonths(ctx, "ods")
			Expect(backend.KindOf(err)).To(Equal(backend.KindValidation))
		})

		It("should report an empty window as not found", func() {
			clock = clock.Add(365 * 24 * time.Hour)
			_, err := svc.sensorActivities.ExportLastThreeMonths(ctx, backend.ExportCSV)
			Expect(backend.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("ExportFilename", func() {
		It("should stamp the date", func() {
			Expect(backend.ExportFilename(clock, backend.ExportCSV)).To(Equal("sensor_activity_data_20250309.csv"))
		})
	})
})
