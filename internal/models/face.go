package models

import "time"

// Face is the viewable/likeable catalog entity. Its counters are only ever
// adjusted through the interaction repository.
type Face struct {
	ID        int32     `json:"id"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	Views     int64     `json:"views"`
	Likes     int64     `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FaceInteraction deduplicates views and likes per (owner, face) pair.
// At most one row exists per pair.
type FaceInteraction struct {
	ID        int32     `json:"id"`
	OwnerID   int32     `json:"owner_id"`
	FaceID    int32     `json:"face_id"`
	HasViewed bool      `json:"has_viewed"`
	HasLiked  bool      `json:"has_liked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FaceSnapshot is what interaction operations return to the caller: the
// current counters plus the caller's own like state.
type FaceSnapshot struct {
	FaceID   int32 `json:"face_id"`
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	HasLiked bool  `json:"has_liked"`
}
