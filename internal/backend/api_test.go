package backend_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agrosensorhub.dev/hub/internal/backend"
)

const apiPrefix = backend.DefaultAPIPrefix

var _ = Describe("API", func() {
	const mac = "35:98:F4:D1:86:51"

	var (
		clock   time.Time
		svc     *services
		handler http.Handler
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]any {
		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	BeforeEach(func() {
		clock = time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC)
		now := func() time.Time { return clock }
		svc = newServices(now)

		api, err := backend.NewAPI(&backend.APIConfig{
			Logger:           newTestLogger(),
			Devices:          svc.devices,
			SensorActivities: svc.sensorActivities,
			Notifications:    svc.notifications,
			Now:              now,
		})
		Expect(err).NotTo(HaveOccurred())
		handler = api.Handler()
	})

	Describe("NewAPI", func() {
		It("should reject a nil config", func() {
			_, err := backend.NewAPI(nil)
			Expect(err).To(MatchError("api config cannot be nil"))
		})

		It("should require every service", func() {
			_, err := backend.NewAPI(&backend.APIConfig{Logger: newTestLogger(), Devices: svc.devices})
			Expect(err).To(MatchError("services cannot be nil"))
		})
	})

	Describe("health", func() {
		It("should report ok on both paths", func() {
			for _, path := range []string{"/health", apiPrefix + "/health"} {
				rec := do(http.MethodGet, path, "")
				Expect(rec.Code).To(Equal(http.StatusOK))
				body := decode(rec)
				Expect(body["status"]).To(Equal("ok"))
				Expect(body["timestamp"]).To(Equal("2025-03-09T14:00:00Z"))
			}
		})

		It("should tag responses with a request id", func() {
			rec := do(http.MethodGet, "/health", "")
			Expect(rec.Header().Get("X-Request-ID")).NotTo(BeEmpty())

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("X-Request-ID", "abc-123")
			rec = httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			Expect(rec.Header().Get("X-Request-ID")).To(Equal("abc-123"))
		})
	})

	Describe("devices", func() {
		It("should create a device named after its MAC", func() {
			rec := do(http.MethodPost, apiPrefix+"/devices", `{"mac_address":"`+mac+`"}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			body := decode(rec)
			Expect(body["mac_address"]).To(Equal(mac))
			Expect(body["name"]).To(Equal(mac))
		})

		It("should answer 400 for a duplicate", func() {
			svc.store.addDevice(mac, "Zone A")

			rec := do(http.MethodPost, apiPrefix+"/devices", `{"mac_address":"`+mac+`","name":"Zone B"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)).To(Equal(map[string]any{"detail": "Device already exists"}))
		})

		It("should answer 422 with field details for a bad MAC", func() {
			rec := do(http.MethodPost, apiPrefix+"/devices", `{"mac_address":"not-a-mac"}`)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			body := decode(rec)
			Expect(body["detail"]).To(Equal("Validation error"))
			Expect(body["errors"]).To(ConsistOf(map[string]any{
				"field":   "mac_address",
				"message": "must be a MAC address in format XX:XX:XX:XX:XX:XX",
			}))
		})

		It("should answer 422 for malformed JSON", func() {
			rec := do(http.MethodPost, apiPrefix+"/devices", `{"mac_address":`)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			errs := decode(rec)["errors"].([]any)
			Expect(errs[0].(map[string]any)["field"]).To(Equal("body"))
		})

		It("should rename with PUT and 404 on unknown devices", func() {
			rec := do(http.MethodPut, apiPrefix+"/devices", `{"mac_address":"`+mac+`","name":"Zone B"}`)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)["detail"]).To(Equal("Device not found"))

			svc.store.addDevice(mac, "Zone A")
			rec = do(http.MethodPut, apiPrefix+"/devices", `{"mac_address":"`+mac+`","name":"Zone B"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)["name"]).To(Equal("Zone B"))
		})

		It("should list and fetch devices", func() {
			rec := do(http.MethodGet, apiPrefix+"/devices", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)["detail"]).To(Equal("No devices found"))

			svc.store.addDevice(mac, "Zone A")
			rec = do(http.MethodGet, apiPrefix+"/devices", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"name":"Zone A"`))

			rec = do(http.MethodGet, apiPrefix+"/devices/"+mac, "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = do(http.MethodGet, apiPrefix+"/devices/whatever", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should hide internal failures", func() {
			svc.store.err = errors.New("connection reset")

			rec := do(http.MethodGet, apiPrefix+"/devices", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(decode(rec)).To(Equal(map[string]any{"detail": "Internal server error"}))
		})
	})

	Describe("sensor activities", func() {
		It("should ingest a reading and expose the owner as device_id", func() {
			rec := do(http.MethodPost, apiPrefix+"/sensor-activities",
				`{"mac_address":"`+mac+`","zone":"Zone A","env_temperature":21.257}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			body := decode(rec)
			Expect(body["device_id"]).To(Equal(mac))
			Expect(body["env_temperature"]).To(Equal(21.257))
			Expect(body).To(HaveKeyWithValue("env_humidity", BeNil()))
			Expect(body).NotTo(HaveKey("mac_address"))

			device, ok := svc.store.device(mac)
			Expect(ok).To(BeTrue())
			Expect(device.Name).To(Equal("Zone A"))
		})

		It("should reject readings outside the humidity range", func() {
			rec := do(http.MethodPost, apiPrefix+"/sensor-activities", `{"mac_address":"`+mac+`","env_humidity":120}`)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(rec.Body.String()).To(ContainSubstring(`"field":"env_humidity"`))
		})

		It("should serve rounded readings by id", func() {
			a := svc.store.addActivity(backend.SensorActivity{DeviceID: mac, CreatedAt: clock, EnvHumidity: ptr(65.555)})

			rec := do(http.MethodGet, apiPrefix+"/sensor-activities/1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			body := decode(rec)
			Expect(body["id"]).To(BeNumerically("==", a.ID))
			Expect(body["env_humidity"]).To(Equal(65.56))

			rec = do(http.MethodGet, apiPrefix+"/sensor-activities/2", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)["detail"]).To(Equal("Sensor activity with id 2 not found"))
		})

		It("should answer 422 for a non-numeric id", func() {
			rec := do(http.MethodGet, apiPrefix+"/sensor-activities/abc", "")
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		DescribeTable("pagination bounds",
			func(query string, status int) {
				svc.store.addActivity(backend.SensorActivity{DeviceID: mac, CreatedAt: clock})
				rec := do(http.MethodGet, apiPrefix+"/sensor-activities"+query, "")
				Expect(rec.Code).To(Equal(status))
			},
			Entry("defaults", "", http.StatusOK),
			Entry("limit at the maximum", "?limit=100", http.StatusOK),
			Entry("limit zero", "?limit=0", http.StatusUnprocessableEntity),
			Entry("limit above the maximum", "?limit=101", http.StatusUnprocessableEntity),
			Entry("negative skip", "?skip=-1", http.StatusUnprocessableEntity),
			Entry("skip past the end", "?skip=5", http.StatusNotFound),
			Entry("date range", "?start_date=2025-03-09T00:00:00Z&end_date=2025-03-10T00:00:00Z", http.StatusOK),
			Entry("bad date", "?start_date=yesterday", http.StatusUnprocessableEntity),
		)

		It("should serve the latest reading of a device", func() {
			svc.store.addActivity(backend.SensorActivity{DeviceID: mac, CreatedAt: clock.Add(-time.Hour)})
			svc.store.addActivity(backend.SensorActivity{DeviceID: mac, CreatedAt: clock})

			rec := do(http.MethodGet, apiPrefix+"/sensor-activities/device/"+mac+"/latest", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)["id"]).To(BeNumerically("==", 2))
		})

		It("should serve zones as an empty array when nothing was reported", func() {
			rec := do(http.MethodGet, apiPrefix+"/sensor-activities/all/latest", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`[]`))
		})

		It("should serve zone summaries", func() {
			svc.store.addDevice(mac, "Zone A")
			svc.store.addActivity(backend.SensorActivity{DeviceID: mac, CreatedAt: clock, EnvHumidity: ptr(40.0)})

			rec := do(http.MethodGet, apiPrefix+"/sensor-activities/all/latest", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var zones []map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &zones)).To(Succeed())
			Expect(zones).To(HaveLen(1))
			Expect(zones[0]).To(HaveKeyWithValue("status", "active"))
			Expect(zones[0]).To(HaveKeyWithValue("environment_humidity", 40.0))
			Expect(zones[0]["planting_boxes"]).To(HaveLen(4))
		})

		DescribeTable("exports",
			func(suffix, contentType, filename string) {
				svc.store.addActivity(backend.SensorActivity{DeviceID: mac, CreatedAt: clock.Add(-time.Hour)})

				rec := do(http.MethodGet, apiPrefix+"/sensor-activities/download/last-three-months"+suffix, "")
				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(rec.Header().Get("Content-Type")).To(Equal(contentType))
				Expect(rec.Header().Get("Content-Disposition")).To(Equal("attachment; filename=" + filename))
				Expect(rec.Body.Len()).To(BeNumerically(">", 0))
			},
			Entry("csv", "", "text/csv; charset=utf-8", "sensor_activity_data_20250309.csv"),
			Entry("xlsx", ".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "sensor_activity_data_20250309.xlsx"),
			Entry("pdf", ".pdf", "application/pdf", "sensor_activity_data_20250309.pdf"),
		)

		It("should answer 404 when there is nothing to export", func() {
			rec := do(http.MethodGet, apiPrefix+"/sensor-activities/download/last-three-months", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)["detail"]).To(Equal("No sensor activities found"))
		})
	})

	Describe("notifications", func() {
		It("should create, list and mark notifications", func() {
			rec := do(http.MethodPost, apiPrefix+"/notifications",
				`{"device_id":"`+mac+`","type":"alert","title":"Low moisture"}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			created := decode(rec)
			Expect(created["is_read"]).To(BeFalse())
			Expect(created).To(HaveKeyWithValue("description", BeNil()))

			rec = do(http.MethodGet, apiPrefix+"/notifications/unread", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			rec = do(http.MethodPatch, apiPrefix+"/notifications/1/read", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)["is_read"]).To(BeTrue())

			rec = do(http.MethodGet, apiPrefix+"/notifications/unread", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)["detail"]).To(Equal("No unread notifications found"))

			rec = do(http.MethodPatch, apiPrefix+"/notifications/1/read?is_read=false", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)["is_read"]).To(BeFalse())
		})

		It("should require a title", func() {
			rec := do(http.MethodPost, apiPrefix+"/notifications", `{"device_id":"`+mac+`","type":"alert"}`)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(rec.Body.String()).To(ContainSubstring(`"field":"title"`))
		})

		It("should answer 404 for unknown ids and empty device lists", func() {
			rec := do(http.MethodPatch, apiPrefix+"/notifications/7/read", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)["detail"]).To(Equal("Notification with id 7 not found"))

			rec = do(http.MethodGet, apiPrefix+"/notifications/device/"+mac, "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			rec = do(http.MethodGet, apiPrefix+"/notifications", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)["detail"]).To(Equal("No notifications found"))
		})
	})
})
