//go:build unix

package archive

import (
	"os"
	"syscall"
)

type ownerIDs struct {
	uid, gid uint32
}

func statOwner(info os.FileInfo) (ownerIDs, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ownerIDs{}, false
	}
	return ownerIDs{uid: st.Uid, gid: st.Gid}, true
}

func chown(path string, e Entry) error {
	if e.UID == unknownID && e.GID == unknownID {
		return nil
	}
	uid, gid := -1, -1
	if e.UID != unknownID {
		uid = int(e.UID)
	}
	if e.GID != unknownID {
		gid = int(e.GID)
	}
	return os.Chown(path, uid, gid)
}
