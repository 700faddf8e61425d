package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bledom-go-home/internal/controller"
	"bledom-go-home/internal/model"
	"bledom-go-home/internal/proto"
	"bledom-go-home/internal/store"
)

// deviceView is the device record enriched with live controller state.
type deviceView struct {
	*store.Device
	State     *controller.DeviceState `json:"state,omitempty"`
	LinkState string                  `json:"link_state,omitempty"`
}

func (s *Server) enrichDevice(dev *store.Device) deviceView {
	v := deviceView{Device: dev}
	if c, ok := s.registry.Get(dev.Address); ok {
		st := c.State()
		v.State = &st
		v.LinkState = c.LinkState().String()
	}
	return v
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.Devices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.enrichDevice(dev))
	}
	s.writeJSON(w, http.StatusOK, views)
}

type addDeviceRequest struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	FriendlyName string `json:"friendly_name"`
}

func (s *Server) handleAPIAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Address == "" || req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "address and name are required"})
		return
	}

	c, err := s.registry.Add(req.Address, req.Name, req.FriendlyName)
	if err != nil {
		var nse *model.NotSupportedError
		if errors.As(err, &nse) {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Error("add device", "err", err, "address", req.Address)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	dev, err := s.registry.Device(req.Address)
	if err != nil {
		s.writeJSON(w, http.StatusCreated, map[string]string{"address": c.Address()})
		return
	}
	s.writeJSON(w, http.StatusCreated, s.enrichDevice(dev))
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	dev, err := s.registry.Device(address)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.enrichDevice(dev))
}

type renameDeviceRequest struct {
	FriendlyName string `json:"friendly_name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	var req renameDeviceRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.registry.Rename(address, req.FriendlyName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("rename device", "err", err, "address", address)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "friendly_name": req.FriendlyName})
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if err := s.registry.Remove(r.Context(), address); err != nil {
		s.logger.Error("delete device", "err", err, "address", address)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIGetState(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":      c.State(),
		"link_state": c.LinkState().String(),
	})
}

func (s *Server) handleAPISetCalibration(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	var calib store.Calibration
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&calib); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.registry.SetCalibration(address, calib); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type powerRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleAPIPower(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req powerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	var err error
	if req.On {
		err = c.TurnOn(r.Context())
	} else {
		err = c.TurnOff(r.Context())
	}
	s.finishIntent(w, err)
}

type colorRequest struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (s *Server) handleAPIColor(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req colorRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.finishIntent(w, c.SetRGB(r.Context(), req.R, req.G, req.B))
}

type levelRequest struct {
	Level uint8 `json:"level"`
}

func (s *Server) handleAPIBrightness(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req levelRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.finishIntent(w, c.SetBrightness(r.Context(), req.Level))
}

func (s *Server) handleAPIWhite(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req levelRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.finishIntent(w, c.SetWhite(r.Context(), req.Level))
}

type colorTempRequest struct {
	Kelvin int `json:"kelvin"`
}

func (s *Server) handleAPIColorTemp(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req colorTempRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.finishIntent(w, c.SetColorTemp(r.Context(), req.Kelvin))
}

type effectRequest struct {
	Name  string `json:"name"`
	Speed *uint8 `json:"speed,omitempty"`
}

func (s *Server) handleAPIEffect(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req effectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := c.SetEffect(r.Context(), req.Name); err != nil {
		s.finishIntent(w, err)
		return
	}
	if req.Speed != nil {
		s.finishIntent(w, c.SetEffectSpeed(r.Context(), *req.Speed))
		return
	}
	s.finishIntent(w, nil)
}

type micRequest struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Effect      string `json:"effect,omitempty"`
	Sensitivity *uint8 `json:"sensitivity,omitempty"`
}

func (s *Server) handleAPIMic(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req micRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if req.Enabled != nil {
		if err := c.SetMicEnabled(r.Context(), *req.Enabled); err != nil {
			s.finishIntent(w, err)
			return
		}
	}
	if req.Effect != "" {
		if err := c.SetMicEffect(r.Context(), req.Effect); err != nil {
			s.finishIntent(w, err)
			return
		}
	}
	if req.Sensitivity != nil {
		if err := c.SetMicSensitivity(r.Context(), *req.Sensitivity); err != nil {
			s.finishIntent(w, err)
			return
		}
	}
	s.finishIntent(w, nil)
}

func (s *Server) handleAPISyncTime(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	s.finishIntent(w, c.SyncTime(r.Context(), time.Now()))
}

type scheduleRequest struct {
	On      bool     `json:"on"`
	Hour    uint8    `json:"hour"`
	Minute  uint8    `json:"minute"`
	Days    []string `json:"days"`
	Enabled bool     `json:"enabled"`
}

var scheduleDays = map[string]uint8{
	"mon": proto.ScheduleMonday,
	"tue": proto.ScheduleTuesday,
	"wed": proto.ScheduleWednesday,
	"thu": proto.ScheduleThursday,
	"fri": proto.ScheduleFriday,
	"sat": proto.ScheduleSaturday,
	"sun": proto.ScheduleSunday,
}

func (s *Server) handleAPISchedule(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	var days uint8
	for _, d := range req.Days {
		bit, ok := scheduleDays[d]
		if !ok {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown day: " + d})
			return
		}
		days |= bit
	}

	s.finishIntent(w, c.SetSchedule(r.Context(), req.On, req.Hour, req.Minute, days, req.Enabled))
}

func (s *Server) handleAPIDisconnect(w http.ResponseWriter, r *http.Request) {
	c, ok := s.resolve(w, r)
	if !ok {
		return
	}
	s.finishIntent(w, c.Disconnect(r.Context()))
}

type scanRequest struct {
	DurationSeconds int  `json:"duration_seconds"`
	AutoAdd         bool `json:"auto_add"`
}

func (s *Server) handleAPIScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = 10
	}
	if req.DurationSeconds > 120 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "duration limited to 120 seconds"})
		return
	}

	found, err := s.registry.Scan(r.Context(), time.Duration(req.DurationSeconds)*time.Second, req.AutoAdd)
	if err != nil {
		s.logger.Error("scan", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleAPIEffects(w http.ResponseWriter, r *http.Request) {
	micNames := make([]string, 0, len(model.MicEffects))
	for id := uint8(0x80); id <= 0x87; id++ {
		micNames = append(micNames, model.MicEffects[id])
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{
		"effects":     model.EffectNames(),
		"mic_effects": micNames,
	})
}

// resolve finds the controller for the request's address path value,
// writing a 404 if it is not registered.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*controller.Controller, bool) {
	address := r.PathValue("address")
	c, ok := s.registry.Resolve(address)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return nil, false
	}
	return c, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// finishIntent maps an intent error to a response. Unsupported operations
// are the caller's fault; everything else is a device or link problem.
func (s *Server) finishIntent(w http.ResponseWriter, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	var unsup *controller.UnsupportedOperationError
	if errors.As(err, &unsup) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Error("device intent", "err", err)
	s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}
