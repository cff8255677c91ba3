package resource

import (
	"go.uber.org/zap"
)

// Acquire binds a new typed handle to the manifest for id, creating the
// manifest when autoCreate is set. Returns nil if no manifest exists.
func Acquire[T any](m *Manager, id ID, autoCreate bool) *Handle[T] {
	return bind[T](m.RequestManifest(id, autoCreate))
}

// Load returns a handle for id and, if the resource is not loaded or being
// loaded, schedules its load with a fresh T and desc. The handle is returned
// even when scheduling fails; its status then stays as it was.
//
//	tex := resource.Load[assets.Texture](m, "ui/logo.png", assets.File{Path: "ui/logo.png"})
//	defer tex.Release()
//	if tex.WaitForValidity(time.Second) { draw(tex.Get()) }
func Load[T any, PT interface {
	*T
	Resource
}](m *Manager, id ID, desc Descriptor) *Handle[PT] {
	h := Acquire[PT](m, id, true)
	if h == nil {
		return nil
	}

	switch h.Status() {
	case StatusUnloaded, StatusInvalid:
		if err := m.LoadAsync(h.mf, PT(new(T)), desc); err != nil {
			m.log.Warn("load not scheduled", zap.String("id", string(id)), zap.Error(err))
		}
	}
	return h
}
