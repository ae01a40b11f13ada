package physfile

import (
	"encoding/binary"

	"github.com/nainya/pagestore/pkg/page"
)

// encodeControl and decodeControl lay out the free-list bookkeeping
// shared by the page-managed, area-managed and direct-area control pages:
// headPage(4) + tailPage(4) + headSeq(8) + tailSeq(8).
func encodeControl(raw []byte, headPage, tailPage page.ID, headSeq, tailSeq uint64) {
	binary.LittleEndian.PutUint32(raw[0:4], uint32(headPage))
	binary.LittleEndian.PutUint32(raw[4:8], uint32(tailPage))
	binary.LittleEndian.PutUint64(raw[8:16], headSeq)
	binary.LittleEndian.PutUint64(raw[16:24], tailSeq)
}

func decodeControl(raw []byte) (headPage, tailPage page.ID, headSeq, tailSeq uint64) {
	headPage = page.ID(binary.LittleEndian.Uint32(raw[0:4]))
	tailPage = page.ID(binary.LittleEndian.Uint32(raw[4:8]))
	headSeq = binary.LittleEndian.Uint64(raw[8:16])
	tailSeq = binary.LittleEndian.Uint64(raw[16:24])
	return
}
