package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"loopdeck/internal/audio"
	"loopdeck/internal/config"
	"loopdeck/internal/driver"
	"loopdeck/internal/engine"
	"loopdeck/internal/stream"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("loopdeck starting up...")

	mixer := engine.NewMixer(cfg.NumTracks, audio.SampleRate)
	mixer.SetMetronomeVolume(cfg.MetronomeVolume)

	for i, path := range cfg.Preload {
		if i >= mixer.NumTracks() {
			break
		}
		if err := mixer.LoadTrack(i, path); err != nil {
			log.Printf("Preload track %d: %v", i+1, err)
		}
	}

	// Output driver: system audio device, or a wall-clock pump when
	// running headless. Either way the rendered frames feed the monitor
	// broadcaster.
	var frames <-chan []int16
	if cfg.Output == "device" {
		dev, err := driver.NewDevice(mixer)
		if err == nil {
			if err := dev.Start(); err != nil {
				log.Printf("Audio device start failed: %v", err)
			}
			defer dev.Close()
			frames = dev.Frames()
		} else {
			log.Printf("Audio device unavailable (%v), falling back to clock driver", err)
		}
	}
	if frames == nil {
		clock := driver.NewClock(mixer)
		go clock.Run(ctx)
		frames = clock.Frames()
	}

	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, frames)

	webrtcHandler := stream.NewWebRTCHandler(broadcaster)

	mux := http.NewServeMux()

	// Monitor streams
	mux.Handle("/monitor", stream.NewHTTPHandler(broadcaster))
	mux.Handle("/offer", webrtcHandler)

	// Status: polled by UI clients at their own refresh rate.
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		tracks := make([]engine.TrackStatus, mixer.NumTracks())
		for i := range tracks {
			tracks[i] = mixer.Track(i).Status()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]any{
			"transport":        mixer.Status(),
			"tracks":           tracks,
			"http_listeners":   broadcaster.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
		})
	})

	mux.HandleFunc("/api/track/peaks", func(w http.ResponseWriter, r *http.Request) {
		var idx int
		if _, err := fmt.Sscanf(r.URL.Query().Get("track"), "%d", &idx); err != nil {
			http.Error(w, "track query parameter required", http.StatusBadRequest)
			return
		}
		tr := mixer.Track(idx)
		if tr == nil {
			http.Error(w, "no such track", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"track": idx, "peaks": tr.Peaks()})
	})

	mux.HandleFunc("/api/load", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Track int    `json:"track"`
			Path  string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if mixer.Track(req.Track) == nil {
			http.Error(w, "no such track", http.StatusNotFound)
			return
		}
		if err := mixer.LoadTrack(req.Track, req.Path); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeOK(w, map[string]any{"track": req.Track, "status": mixer.Track(req.Track).Status()})
	})

	mux.HandleFunc("/api/play", transportHandler(mixer.Play))
	mux.HandleFunc("/api/stop", transportHandler(mixer.Stop))

	mux.HandleFunc("/api/tempo", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			BPM float64 `json:"bpm"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BPM <= 0 {
			http.Error(w, "invalid bpm", http.StatusBadRequest)
			return
		}
		mixer.SetTempo(req.BPM)
		writeOK(w, map[string]any{"master_bpm": mixer.MasterBPM()})
	})

	mux.HandleFunc("/api/metronome", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Enabled bool     `json:"enabled"`
			Volume  *float64 `json:"volume"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		mixer.SetMetronome(req.Enabled)
		if req.Volume != nil {
			mixer.SetMetronomeVolume(*req.Volume)
		}
		writeOK(w, map[string]any{"metronome": req.Enabled})
	})

	mux.HandleFunc("/api/track/mute", trackHandler(mixer, func(tr *engine.Track, body trackRequest) {
		tr.SetMuted(body.Bool)
	}))
	mux.HandleFunc("/api/track/solo", trackHandler(mixer, func(tr *engine.Track, body trackRequest) {
		tr.SetSolo(body.Bool)
	}))
	mux.HandleFunc("/api/track/looping", trackHandler(mixer, func(tr *engine.Track, body trackRequest) {
		tr.SetLooping(body.Bool)
	}))
	mux.HandleFunc("/api/track/volume", trackHandler(mixer, func(tr *engine.Track, body trackRequest) {
		tr.SetVolume(body.Value)
	}))
	mux.HandleFunc("/api/track/stretch", trackHandler(mixer, func(tr *engine.Track, body trackRequest) {
		tr.SetStretchRatio(body.Value)
	}))
	mux.HandleFunc("/api/track/bpm", trackHandler(mixer, func(tr *engine.Track, body trackRequest) {
		tr.SetDetectedBPM(body.Value)
	}))
	mux.HandleFunc("/api/track/seek", trackHandler(mixer, func(tr *engine.Track, body trackRequest) {
		tr.SetPosition(body.Value)
	}))
	mux.HandleFunc("/api/track/loop", trackHandler(mixer, func(tr *engine.Track, body trackRequest) {
		if body.Clear {
			tr.ClearLoopRegion()
			return
		}
		tr.SetLoopRegion(body.Start, body.End)
	}))

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		server.Close()
	}()

	log.Printf("loopdeck live on %s (%d tracks)", addr, mixer.NumTracks())
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}

// trackRequest is the shared body shape for per-track setters; each
// endpoint reads the fields it cares about.
type trackRequest struct {
	Track int     `json:"track"`
	Bool  bool    `json:"on"`
	Value float64 `json:"value"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Clear bool    `json:"clear"`
}

func trackHandler(mixer *engine.Mixer, apply func(*engine.Track, trackRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req trackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		tr := mixer.Track(req.Track)
		if tr == nil {
			http.Error(w, "no such track", http.StatusNotFound)
			return
		}
		apply(tr, req)
		writeOK(w, map[string]any{"track": req.Track, "status": tr.Status()})
	}
}

func transportHandler(action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		action()
		writeOK(w, nil)
	}
}

func writeOK(w http.ResponseWriter, extra map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"ok": true}
	for k, v := range extra {
		resp[k] = v
	}
	json.NewEncoder(w).Encode(resp)
}
