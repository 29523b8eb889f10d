package backend

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agrosensorhub.dev/hub/pkg/telemetry"
)

var exportContentTypes = map[string]string{
	ExportCSV:  "text/csv; charset=utf-8",
	ExportXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	ExportPDF:  "application/pdf",
}

func (a *API) createDevice(c *gin.Context) {
	var req telemetry.DeviceAnnouncement
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	device, err := a.devices.Create(c.Request.Context(), req.MACAddress, req.Name)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newDeviceResponse(device))
}

func (a *API) updateDevice(c *gin.Context) {
	var req telemetry.DeviceAnnouncement
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	device, err := a.devices.Update(c.Request.Context(), req.MACAddress, req.Name)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newDeviceResponse(device))
}

func (a *API) getDevice(c *gin.Context) {
	device, err := a.devices.Get(c.Request.Context(), c.Param("mac"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newDeviceResponse(device))
}

func (a *API) listDevices(c *gin.Context) {
	devices, err := a.devices.List(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}

	out := make([]deviceResponse, len(devices))
	for i := range devices {
		out[i] = newDeviceResponse(&devices[i])
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) createSensorActivity(c *gin.Context) {
	var reading telemetry.Reading
	if err := c.ShouldBindJSON(&reading); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	activity, err := a.sensorActivities.Create(c.Request.Context(), &reading, SourceHTTP)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSensorActivityResponse(activity))
}

func (a *API) listSensorActivities(c *gin.Context) {
	var q activityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	activities, err := a.sensorActivities.List(c.Request.Context(), ActivityFilter{
		Start: q.StartDate,
		End:   q.EndDate,
		Skip:  q.Skip,
		Limit: q.Limit,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, activityResponses(activities))
}

func (a *API) getSensorActivity(c *gin.Context) {
	id, ok := a.pathID(c)
	if !ok {
		return
	}

	activity, err := a.sensorActivities.Get(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSensorActivityResponse(activity))
}

func (a *API) latestSensorActivity(c *gin.Context) {
	activity, err := a.sensorActivities.LatestByMAC(c.Request.Context(), c.Param("mac"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSensorActivityResponse(activity))
}

func (a *API) zones(c *gin.Context) {
	zones, err := a.sensorActivities.Zones(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, zones)
}

func (a *API) export(format string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := a.sensorActivities.ExportLastThreeMonths(c.Request.Context(), format)
		if err != nil {
			a.fail(c, err)
			return
		}

		c.Header("Content-Disposition", "attachment; filename="+ExportFilename(a.now(), format))
		c.Data(http.StatusOK, exportContentTypes[format], data)
	}
}

func (a *API) createNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	notification := &Notification{
		DeviceID:    req.DeviceID,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := a.notifications.Create(c.Request.Context(), notification); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newNotificationResponse(notification))
}

func (a *API) unreadNotifications(c *gin.Context) {
	var q unreadQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	notifications, err := a.notifications.LatestUnread(c.Request.Context(), q.Limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, notificationResponses(notifications))
}

func (a *API) listNotifications(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	notifications, err := a.notifications.List(c.Request.Context(), Page(q))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, notificationResponses(notifications))
}

func (a *API) setNotificationRead(c *gin.Context) {
	id, ok := a.pathID(c)
	if !ok {
		return
	}

	var q readQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	notification, err := a.notifications.SetRead(c.Request.Context(), id, q.IsRead)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newNotificationResponse(notification))
}

func (a *API) deviceNotifications(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		a.fail(c, bindingError(err))
		return
	}

	notifications, err := a.notifications.ListByDevice(c.Request.Context(), c.Param("mac"), Page(q))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, notificationResponses(notifications))
}

// pathID parses the ":id" segment, failing the request when it is not a
// non-negative integer.
func (a *API) pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil {
		a.fail(c, NewValidationError("Validation error", FieldError{
			Field:   "id",
			Message: "must be a valid integer",
		}))
		return 0, false
	}
	return uint(id), true
}

func activityResponses(activities []SensorActivity) []sensorActivityResponse {
	out := make([]sensorActivityResponse, len(activities))
	for i := range activities {
		out[i] = newSensorActivityResponse(&activities[i])
	}
	return out
}

func notificationResponses(notifications []Notification) []notificationResponse {
	out := make([]notificationResponse, len(notifications))
	for i := range notifications {
		out[i] = newNotificationResponse(&notifications[i])
	}
	return out
}
