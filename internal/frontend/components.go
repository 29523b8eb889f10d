package frontend

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"agrosensorhub.dev/hub/pkg/hubrpc"
)

const timeLayout = "2006-01-02 15:04:05"

// htmlWriter writes markup and keeps the first error.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) component(ctx context.Context, c templ.Component) {
	if h.err != nil {
		return
	}
	h.err = c.Render(ctx, h.w)
}

func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="es"><head><meta charset="utf-8"><title>`)
		h.text(title)
		h.raw(` | Agro Sensor Hub</title></head><body><nav><a href="/">Zonas</a> <a href="/history">Historial</a></nav><main>`)
		h.component(ctx, body)
		h.raw(`</main></body></html>`)
		return h.err
	})
}

func zonesView(zones []hubrpc.Zone, now time.Time) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<h1>Zonas</h1>`)
		if len(zones) == 0 {
			h.raw(`<p class="empty">No hay zonas reportando.</p>`)
			return h.err
		}

		h.raw(`<section class="zones">`)
		for _, z := range zones {
			h.raw(`<article class="zone"><h2><a href="/zones/`)
			h.text(z.MACAddress)
			h.raw(`">`)
			h.text(z.Name)
			h.raw(`</a></h2><span class="status status-`)
			h.text(z.Status)
			h.raw(`">`)
			h.text(z.Status)
			h.raw(`</span><dl><dt>Temperatura</dt><dd>`)
			h.text(formatFloat(z.EnvironmentTemperature) + " °C")
			h.raw(`</dd><dt>Humedad</dt><dd>`)
			h.text(formatFloat(z.EnvironmentHumidity) + " %")
			h.raw(`</dd><dt>Última lectura</dt><dd>`)
			h.text(z.LatestReading.Format(timeLayout))
			h.raw(` (`)
			h.text(age(now, z.LatestReading))
			h.raw(`)</dd></dl><ul class="boxes">`)
			for _, box := range z.PlantingBoxes {
				h.raw(`<li>`)
				h.text(box.Name + ": " + formatFloat(box.GroundHumidity))
				h.raw(`</li>`)
			}
			h.raw(`</ul></article>`)
		}
		h.raw(`</section>`)
		return h.err
	})
}

func zoneView(a *hubrpc.Activity) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<h1>`)
		h.text(a.DeviceID)
		h.raw(`</h1><dl>`)
		row := func(label, value string) {
			h.raw(`<dt>`)
			h.text(label)
			h.raw(`</dt><dd>`)
			h.text(value)
			h.raw(`</dd>`)
		}
		row("Zona", stringOr(a.Zone, a.DeviceID))
		row("Humedad Ambiente", measurement(a.EnvHumidity))
		row("Temperatura Ambiente", measurement(a.EnvTemperature))
		for i, v := range a.GroundSensors() {
			row("Sensor Tierra "+strconv.Itoa(i+1), measurement(v))
		}
		row("Tiempo de Creación", a.CreatedAt.Format(timeLayout))
		h.raw(`</dl>`)
		return h.err
	})
}

func historyView(activities []hubrpc.Activity, pageNumber int, hasNext bool) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<h1>Historial</h1>`)
		if len(activities) == 0 {
			h.raw(`<p class="empty">No hay lecturas.</p>`)
		} else {
			h.raw(`<table><thead><tr><th>ID</th><th>Dirección MAC</th><th>Zona</th><th>Humedad</th><th>Temperatura</th><th>Tiempo de Creación</th></tr></thead><tbody>`)
			for i := range activities {
				a := &activities[i]
				h.raw(`<tr><td>`)
				h.text(strconv.FormatUint(uint64(a.ID), 10))
				h.raw(`</td><td><a href="/zones/`)
				h.text(a.DeviceID)
				h.raw(`">`)
				h.text(a.DeviceID)
				h.raw(`</a></td><td>`)
				h.text(stringOr(a.Zone, ""))
				h.raw(`</td><td>`)
				h.text(measurement(a.EnvHumidity))
				h.raw(`</td><td>`)
				h.text(measurement(a.EnvTemperature))
				h.raw(`</td><td>`)
				h.text(a.CreatedAt.Format(timeLayout))
				h.raw(`</td></tr>`)
			}
			h.raw(`</tbody></table>`)
		}

		h.raw(`<nav class="pager">`)
		if pageNumber > 1 {
			h.raw(fmt.Sprintf(`<a rel="prev" href="/history?page=%d">Anterior</a>`, pageNumber-1))
		}
		h.raw(fmt.Sprintf(`<span>Página %d</span>`, pageNumber))
		if hasNext {
			h.raw(fmt.Sprintf(`<a rel="next" href="/history?page=%d">Siguiente</a>`, pageNumber+1))
		}
		h.raw(`</nav>`)
		return h.err
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func measurement(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return formatFloat(*v)
}

func stringOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}

// age renders how long ago t was, to the second.
func age(now, t time.Time) string {
	d := now.Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return "hace " + d.String()
}
