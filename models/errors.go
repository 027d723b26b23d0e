package models

const (
	ErrTypeEntityNotFound = "entity_not_found"
	ErrTypeAreaNotFound   = "area_not_found"
	ErrTypeAreaNotWatched = "area_not_watched"
	ErrTypeUnauthorized   = "unauthorized"
)
