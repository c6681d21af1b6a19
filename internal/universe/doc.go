// Package universe provides the DMX512 channel buffer used by the DMX bridge.
//
// A Buffer holds up to 512 channel levels (0-255) plus a valid length. The
// channels beyond the valid length are undefined.
//
// # Storage Sharing
//
// Buffers share their backing storage when cloned. The storage block is
// reference counted and every mutating method detaches (copies) the block
// before writing if another buffer still holds it:
//
//	a := universe.NewBuffer([]byte{1, 2, 3})
//	b := a.Clone()      // a and b share one block
//	b.SetChannel(0, 99) // b detaches, a still reads 1
//
// Plain struct assignment (b := a) aliases the block without counting it.
// Use Clone whenever two owners need independent values.
//
// # HTP Merge
//
// HTPMerge combines two buffers channel by channel, keeping the highest
// level. It is the merge rule used when several sources drive one universe.
//
// # Thread Safety
//
// A Buffer must have one logical owner at a time. The reference count is
// atomic so clones may be released from different goroutines.
package universe
