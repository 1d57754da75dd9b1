// Command bridge builds the C shared library used by native hosts:
//
//	go build -buildmode=c-shared -o libnotesync.so ./cmd/bridge
//
// Every exported function returns a C string allocated here; the caller
// releases it with FreeString.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/starford/notesync/internal/bridge"
)

var facade = bridge.New()

//export InitApp
func InitApp(config *C.char) *C.char {
	return C.CString(facade.InitApp(C.GoString(config)))
}

//export Download
func Download(config *C.char) *C.char {
	return C.CString(facade.Download(C.GoString(config)))
}

//export DownloadNote
func DownloadNote(config, notePath *C.char) *C.char {
	return C.CString(facade.DownloadNote(C.GoString(config), C.GoString(notePath)))
}

//export List
func List(config *C.char) *C.char {
	return C.CString(facade.List(C.GoString(config)))
}

//export NewNote
func NewNote(config *C.char) *C.char {
	return C.CString(facade.NewNote(C.GoString(config)))
}

//export ImportNote
func ImportNote(config, filePath *C.char) *C.char {
	return C.CString(facade.ImportNote(C.GoString(config), C.GoString(filePath)))
}

//export DeleteNote
func DeleteNote(config, notePath *C.char) *C.char {
	return C.CString(facade.DeleteNote(C.GoString(config), C.GoString(notePath)))
}

//export Save
func Save(config *C.char) *C.char {
	return C.CString(facade.Save(C.GoString(config)))
}

//export ReadNote
func ReadNote(config, notePath *C.char) *C.char {
	return C.CString(facade.ReadNote(C.GoString(config), C.GoString(notePath)))
}

//export FreeString
func FreeString(s *C.char) {
	C.free(unsafe.Pointer(s))
}

func main() {}
