package serializer

// youngExtentQueue tracks extents that were recently filled, in the
// order in which they were rotated out of the active position. A young
// extent may still be referenced by index writes that were issued
// before it filled up, so its space must not be handed out for
// reclamation until enough index write epochs have passed.
type youngExtentQueue struct {
	extents []uint32
}

func (q *youngExtentQueue) push(extent uint32) {
	q.extents = append(q.extents, extent)
}

func (q *youngExtentQueue) empty() bool {
	return len(q.extents) == 0
}

func (q *youngExtentQueue) peek() uint32 {
	return q.extents[0]
}

func (q *youngExtentQueue) pop() uint32 {
	extent := q.extents[0]
	q.extents = q.extents[1:]
	return extent
}
