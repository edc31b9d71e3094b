package preview

import "github.com/docsum/workbench/internal/models"

// DropZone tracks the drop affordance. It is a plain value; the owning
// workbench guards it with its own lock.
type DropZone struct {
	dragActive bool
	loading    bool
}

// DragEnter marks a drag hovering over the zone. Ignored while loading.
func (d *DropZone) DragEnter() {
	if !d.loading {
		d.dragActive = true
	}
}

// DragLeave clears the drag highlight.
func (d *DropZone) DragLeave() {
	d.dragActive = false
}

// SetLoading switches between the loading indicator and the interactive zone.
// A drop always ends the drag.
func (d *DropZone) SetLoading(loading bool) {
	d.loading = loading
	d.dragActive = false
}

// Accepting reports whether a drop would be considered.
func (d *DropZone) Accepting() bool {
	return !d.loading
}

// State returns the visual state. Loading wins over drag-active.
func (d *DropZone) State() models.DropZoneState {
	switch {
	case d.loading:
		return models.DropZoneLoading
	case d.dragActive:
		return models.DropZoneDragActive
	default:
		return models.DropZoneIdle
	}
}
