package backend_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"agrosensorhub.dev/hub/internal/backend"
	"agrosensorhub.dev/hub/pkg/hubrpc"
)

var _ = Describe("SensorHubService", func() {
	const mac = "35:98:F4:D1:86:51"

	var (
		ctx    context.Context
		clock  time.Time
		svc    *services
		client hubrpc.SensorHubClient
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC)
		svc = newServices(func() time.Time { return clock })

		service, err := backend.NewSensorHubService(newTestLogger(), svc.sensorActivities, nil)
		Expect(err).NotTo(HaveOccurred())

		lis := bufconn.Listen(1 << 20)
		server := grpc.NewServer()
		hubrpc.RegisterSensorHubServer(server, service)
		go func() {
			_ = server.Serve(lis)
		}()
		DeferCleanup(server.Stop)

		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(conn.Close)

		client = hubrpc.NewSensorHubClient(conn)
	})

	Describe("NewSensorHubService", func() {
		It("should reject a nil logger", func() {
			_, err := backend.NewSensorHubService(nil, svc.sensorActivities, nil)
			Expect(err).To(MatchError("logger cannot be nil"))
		})

		It("should reject a nil service", func() {
			_, err := backend.NewSensorHubService(newTestLogger(), nil, nil)
			Expect(err).To(MatchError("sensor activity service cannot be nil"))
		})
	})

	Describe("ListZones", func() {
		It("should return an empty list without readings", func() {
			out, err := client.ListZones(ctx, &emptypb.Empty{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.GetValues()).To(BeEmpty())
		})

		It("should carry the zone documents", func() {
			svc.store.addDevice(mac, "Zone A")
			svc.store.addActivity(backend.SensorActivity{
				DeviceID:      mac,
				CreatedAt:     clock.Add(-time.Minute),
				GroundSensor2: ptr(33.333),
			})

			out, err := client.ListZones(ctx, &emptypb.Empty{})
			Expect(err).NotTo(HaveOccurred())

			var zones []hubrpc.Zone
			Expect(hubrpc.DecodeList(out, &zones)).To(Succeed())
			Expect(zones).To(HaveLen(1))
			Expect(zones[0].MACAddress).To(Equal(mac))
			Expect(zones[0].Name).To(Equal("Zone A"))
			Expect(zones[0].Status).To(Equal(backend.StatusActive))
			Expect(zones[0].LatestReading.Equal(clock.Add(-time.Minute))).To(BeTrue())
			Expect(zones[0].PlantingBoxes).To(HaveLen(backend.PlantingBoxCount))
			Expect(zones[0].PlantingBoxes[1].GroundHumidity).To(Equal(33.33))
		})
	})

	Describe("ListActivities", func() {
		BeforeEach(func() {
			for i := range 3 {
				svc.store.addActivity(backend.SensorActivity{
					DeviceID:    mac,
					CreatedAt:   clock.Add(-time.Duration(i) * time.Minute),
					EnvHumidity: ptr(50.0 + float64(i)),
				})
			}
		})

		It("should page newest first", func() {
			out, err := client.ListActivities(ctx, hubrpc.PageRequest(1, 1))
			Expect(err).NotTo(HaveOccurred())

			var activities []hubrpc.Activity
			Expect(hubrpc.DecodeList(out, &activities)).To(Succeed())
			Expect(activities).To(HaveLen(1))
			Expect(activities[0].DeviceID).To(Equal(mac))
			Expect(*activities[0].EnvHumidity).To(Equal(51.0))
			Expect(activities[0].GroundSensor1).To(BeNil())
		})

		It("should default the page when the request is empty", func() {
			out, err := client.ListActivities(ctx, &structpb.Struct{})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.GetValues()).To(HaveLen(3))
		})

		DescribeTable("rejecting bad pages",
			func(skip, limit int) {
				_, err := client.ListActivities(ctx, hubrpc.PageRequest(skip, limit))
				Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
			},
			Entry("negative skip", -1, 10),
			Entry("zero limit", 0, 0),
			Entry("limit above maximum", 0, 101),
		)

		It("should map an empty page to NotFound", func() {
			_, err := client.ListActivities(ctx, hubrpc.PageRequest(10, 10))
			Expect(status.Code(err)).To(Equal(codes.NotFound))
			Expect(status.Convert(err).Message()).To(Equal("No sensor activities found"))
		})
	})

	Describe("GetLatestActivity", func() {
		It("should return the newest reading of the device", func() {
			svc.store.addActivity(backend.SensorActivity{DeviceID: mac, CreatedAt: clock.Add(-time.Hour)})
			latest := svc.store.addActivity(backend.SensorActivity{DeviceID: mac, CreatedAt: clock, Zone: ptr("Zone A")})

			out, err := client.GetLatestActivity(ctx, wrapperspb.String(mac))
			Expect(err).NotTo(HaveOccurred())

			var activity hubrpc.Activity
			Expect(hubrpc.DecodeStruct(out, &activity)).To(Succeed())
			Expect(activity.ID).To(Equal(latest.ID))
			Expect(*activity.Zone).To(Equal("Zone A"))
		})

		It("should require a MAC address", func() {
			_, err := client.GetLatestActivity(ctx, wrapperspb.String(""))
			Expect(status.Code(err)).To(Equal(codes.InvalidArgument))
		})

		It("should map unknown devices to NotFound", func() {
			_, err := client.GetLatestActivity(ctx, wrapperspb.String(mac))
			Expect(status.Code(err)).To(Equal(codes.NotFound))
		})
	})
})
