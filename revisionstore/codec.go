package revisionstore

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// encodeInfo/decodeInfo serialize RevisionInfo for on-disk storage.
// MessagePack is used here the same way the spec prefers it on disk
// elsewhere (serializer.FormatMsgpack), independent of whatever format the
// payload itself is stored in.
func encodeInfo(info resource.RevisionInfo) ([]byte, error) {
	return msgpack.Marshal(info)
}

func decodeInfo(data []byte, info *resource.RevisionInfo) error {
	return msgpack.Unmarshal(data, info)
}
