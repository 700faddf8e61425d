//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"bledom-go-home/internal/controller"
)

// registerBledomModule registers the `bledom` global table in a Lua state.
func registerBledomModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return bledomOn(L, vm)
	}))

	mod.RawSetString("turn_on", L.NewFunction(func(L *lua.LState) int {
		return bledomPower(L, e, true)
	}))

	mod.RawSetString("turn_off", L.NewFunction(func(L *lua.LState) int {
		return bledomPower(L, e, false)
	}))

	mod.RawSetString("set_rgb", L.NewFunction(func(L *lua.LState) int {
		return bledomSetRGB(L, e)
	}))

	mod.RawSetString("set_brightness", L.NewFunction(func(L *lua.LState) int {
		return bledomSetBrightness(L, e)
	}))

	mod.RawSetString("set_white", L.NewFunction(func(L *lua.LState) int {
		return bledomSetWhite(L, e)
	}))

	mod.RawSetString("set_color_temp", L.NewFunction(func(L *lua.LState) int {
		return bledomSetColorTemp(L, e)
	}))

	mod.RawSetString("set_effect", L.NewFunction(func(L *lua.LState) int {
		return bledomSetEffect(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return bledomAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return bledomLog(L, e)
	}))

	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int {
		return bledomDevices(L, e)
	}))

	L.SetGlobal("bledom", mod)
}

const maxHandlersPerScript = 100

// bledom.on(type, filter, callback)
func bledomOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("address"); v != lua.LNil {
		h.address = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// bledom.turn_on/turn_off(address_or_name)
func bledomPower(L *lua.LState, e *Engine, on bool) int {
	target := L.CheckString(1)
	c := resolveController(e, target)
	if c == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	if on {
		err = c.TurnOn(ctx)
	} else {
		err = c.TurnOff(ctx)
	}
	if err != nil {
		e.logger.Error("power command", "err", err, "target", target, "on", on)
	}
	return 0
}

// bledom.set_rgb(address_or_name, r, g, b)
func bledomSetRGB(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	r := clampChannel(L.CheckInt(2))
	g := clampChannel(L.CheckInt(3))
	b := clampChannel(L.CheckInt(4))

	c := resolveController(e, target)
	if c == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.SetRGB(ctx, r, g, b); err != nil {
		e.logger.Error("set rgb", "err", err, "target", target)
	}
	return 0
}

// bledom.set_brightness(address_or_name, level)
func bledomSetBrightness(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	level := clampChannel(L.CheckInt(2))

	c := resolveController(e, target)
	if c == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.SetBrightness(ctx, level); err != nil {
		e.logger.Error("set brightness", "err", err, "target", target, "level", level)
	}
	return 0
}

// bledom.set_white(address_or_name, level)
func bledomSetWhite(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	level := clampChannel(L.CheckInt(2))

	c := resolveController(e, target)
	if c == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.SetWhite(ctx, level); err != nil {
		e.logger.Error("set white", "err", err, "target", target, "level", level)
	}
	return 0
}

// bledom.set_color_temp(address_or_name, kelvin)
func bledomSetColorTemp(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	kelvin := L.CheckInt(2)

	c := resolveController(e, target)
	if c == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.SetColorTemp(ctx, kelvin); err != nil {
		e.logger.Error("set color temp", "err", err, "target", target, "kelvin", kelvin)
	}
	return 0
}

// bledom.set_effect(address_or_name, name)
func bledomSetEffect(L *lua.LState, e *Engine) int {
	target := L.CheckString(1)
	name := L.CheckString(2)

	c := resolveController(e, target)
	if c == nil {
		e.logger.Warn("device not found", "target", target)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.SetEffect(ctx, name); err != nil {
		e.logger.Error("set effect", "err", err, "target", target, "effect", name)
	}
	return 0
}

// bledom.after(seconds, callback) — delayed execution
func bledomAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// bledom.log(msg)
func bledomLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}

// bledom.devices() — returns a table of all registered devices
func bledomDevices(L *lua.LState, e *Engine) int {
	devices, err := e.registry.Devices()
	if err != nil {
		L.Push(L.NewTable())
		return 1
	}

	tbl := L.NewTable()
	for i, dev := range devices {
		d := L.NewTable()
		d.RawSetString("address", lua.LString(dev.Address))
		name := dev.FriendlyName
		if name == "" {
			name = dev.Name
		}
		d.RawSetString("name", lua.LString(name))
		d.RawSetString("model", lua.LString(dev.ModelPrefix))
		tbl.RawSetInt(i+1, d)
	}

	L.Push(tbl)
	return 1
}

// resolveController finds a controller by address or friendly name.
func resolveController(e *Engine, target string) *controller.Controller {
	c, ok := e.registry.Resolve(target)
	if !ok {
		return nil
	}
	return c
}

func clampChannel(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
