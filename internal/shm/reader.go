package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <stddef.h>
#include <semaphore.h>
#include <errno.h>

#ifndef EINVAL
#define EINVAL 22
#endif

// Layout written by the camera daemon
#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

// Frame slot as written by the camera daemon
typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

// Frame without its data, same leading layout
typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
} FrameHeader;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];  // sem_t semaphore (32 bytes on Linux)
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

// Open shared memory for reading (RDWR needed for sem_wait)
SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        return NULL;
    }

    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL,
        sizeof(SharedFrameBuffer),
        PROT_READ | PROT_WRITE,  // WRITE needed for sem_wait
        MAP_SHARED,
        fd,
        0
    );

    close(fd);

    if (shm == MAP_FAILED) {
        return NULL;
    }

    return shm;
}

// Wait for new frame notification with timeout
// Returns: 0 on success, -1 on timeout, negative errno on error
int wait_new_frame(SharedFrameBuffer* shm, int timeout_ms) {
    if (shm == NULL) {
        return -EINVAL;
    }

    if (timeout_ms <= 0) {
        // No timeout, block indefinitely
        if (sem_wait((sem_t*)&shm->new_frame_sem) != 0) {
            return -errno;  // Return negative errno
        }
        return 0;
    }

    // With timeout
    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }

    // Add timeout
    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (timeout_ms % 1000) * 1000000;
    if (ts.tv_nsec >= 1000000000) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000;
    }

    int ret = sem_timedwait((sem_t*)&shm->new_frame_sem, &ts);
    if (ret == -1) {
        return -errno;  // Return negative errno (including ETIMEDOUT)
    }

    return 0;
}

// Close shared memory
void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

uint32_t get_write_index(SharedFrameBuffer* shm) {
    return shm->write_index;
}

// Copies the slot header without the pixel data.
int read_header(SharedFrameBuffer* shm, uint32_t index, FrameHeader* out) {
    if (index >= RING_BUFFER_SIZE) {
        return -1;
    }
    memcpy(out, &shm->frames[index], offsetof(Frame, data));
    return 0;
}

// Copies size bytes of slot pixel data and returns the slot's frame number
// afterwards, so the caller can detect a slot overwritten mid-copy.
int read_data(SharedFrameBuffer* shm, uint32_t index, uint8_t* data, size_t size, uint64_t* frame_number) {
    if (index >= RING_BUFFER_SIZE || size > MAX_FRAME_SIZE) {
        return -1;
    }
    memcpy(data, shm->frames[index].data, size);
    *frame_number = shm->frames[index].frame_number;
    return 0;
}
*/
import "C"
import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/yuv"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

const (
	// Slot formats written by the camera daemon
	FormatJPEG = 0
	FormatNV12 = 1
	FormatRGB  = 2
	FormatH264 = 3

	RingBufferSize = 30
	MaxFrameSize   = 1920 * 1080 * 3 / 2

	DefaultName = "/lesion_camera_stream"
)

var (
	ErrTimeout = errors.New("timeout waiting for frame")
	ErrClosed  = errors.New("shared memory not open")
)

// Reader reads NV12 frames from the camera daemon's shared-memory ring
type Reader struct {
	shm     *C.SharedFrameBuffer
	shmName string
	lastNum uint64
	seen    bool
	skipped uint64
}

// NewReader opens the ring, retrying for up to wait while the daemon starts.
func NewReader(shmName string, wait time.Duration) (*Reader, error) {
	if shmName == "" {
		shmName = DefaultName
	}

	cName := C.CString(shmName)
	defer C.free(unsafe.Pointer(cName))

	attempts := int(wait / time.Second)
	if attempts < 1 {
		attempts = 1
	}
	var shm *C.SharedFrameBuffer
	for i := 0; i < attempts; i++ {
		shm = C.open_shm(cName)
		if shm != nil {
			break
		}
		if i%5 == 0 {
			logger.Info("SHM", "Waiting for shared memory %s to appear... (%d/%d)", shmName, i+1, attempts)
		}
		if i+1 < attempts {
			time.Sleep(time.Second)
		}
	}
	if shm == nil {
		return nil, fmt.Errorf("failed to open shared memory: %s (gave up after %d attempts)", shmName, attempts)
	}

	logger.Info("SHM", "Opened shared memory: %s", shmName)
	return &Reader{shm: shm, shmName: shmName}, nil
}

// Close unmaps the ring
func (r *Reader) Close() error {
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}

// Skipped returns how many non-NV12 slots were ignored.
func (r *Reader) Skipped() uint64 {
	return r.skipped
}

// ReadLatest returns the newest NV12 frame, or nil when nothing new has been
// written since the previous call.
func (r *Reader) ReadLatest() (*types.Frame, error) {
	if r.shm == nil {
		return nil, ErrClosed
	}

	writeIndex := uint32(C.get_write_index(r.shm))
	if writeIndex == 0 {
		return nil, nil
	}
	index := (writeIndex - 1) % RingBufferSize

	var hdr C.FrameHeader
	if C.read_header(r.shm, C.uint32_t(index), &hdr) != 0 {
		return nil, fmt.Errorf("failed to read frame header at index %d", index)
	}

	num := uint64(hdr.frame_number)
	if r.seen && num == r.lastNum {
		return nil, nil
	}
	r.seen, r.lastNum = true, num

	if int(hdr.format) != FormatNV12 {
		r.skipped++
		return nil, nil
	}
	size := int(hdr.data_size)
	if size <= 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("slot %d: data size %d out of range", index, size)
	}

	data := make([]byte, size)
	var after C.uint64_t
	if C.read_data(r.shm, C.uint32_t(index), (*C.uint8_t)(unsafe.Pointer(&data[0])), C.size_t(size), &after) != 0 {
		return nil, fmt.Errorf("failed to read frame data at index %d", index)
	}
	if uint64(after) != num {
		// Overwritten by the daemon while copying.
		return nil, nil
	}
	return toFrame(&hdr, data)
}

func toFrame(hdr *C.FrameHeader, data []byte) (*types.Frame, error) {
	w, h := int(hdr.width), int(hdr.height)
	planes, err := yuv.NV12Planes(data, w, h)
	if err != nil {
		return nil, err
	}
	return &types.Frame{
		Seq:       uint64(hdr.frame_number),
		Timestamp: time.Unix(int64(hdr.timestamp.tv_sec), int64(hdr.timestamp.tv_nsec)),
		Width:     w,
		Height:    h,
		Planes:    planes,
	}, nil
}

// WaitNewFrame blocks on the ring's semaphore
func (r *Reader) WaitNewFrame(timeout time.Duration) error {
	if r.shm == nil {
		return ErrClosed
	}

	result := int(C.wait_new_frame(r.shm, C.int(timeout.Milliseconds())))
	if result == 0 {
		return nil
	}

	errNum := -result
	switch errNum {
	case 110: // ETIMEDOUT
		return ErrTimeout
	case 4: // EINTR
		return fmt.Errorf("interrupted (errno %d)", errNum)
	default:
		return fmt.Errorf("semaphore wait failed (errno %d)", errNum)
	}
}
