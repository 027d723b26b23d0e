package worldmap

const (
	// The error type returned when a rectangle has a NaN edge or inverted
	// bounds.
	ErrTypeInvalidRange = "worldmap_invalid_range"

	// The error type returned when an element id is registered twice.
	ErrTypeDuplicateElement = "worldmap_duplicate_element"

	// The error type returned when an element id is not registered.
	ErrTypeElementNotFound = "worldmap_element_not_found"

	// The error type returned when resizing an area that has been closed.
	ErrTypeAreaClosed = "worldmap_area_closed"
)
