//go:build windows

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

var (
	clsidMMDeviceEnumerator = ole.NewGUID("{BCDE0395-E52F-467C-8E3D-C4579291692E}")
	iidIMMDeviceEnumerator  = ole.NewGUID("{A95664D2-9614-4F35-A746-DE8DB63617E6}")
	iidIAudioClient         = ole.NewGUID("{1CB9AD4C-DBFA-4C32-B178-C2F568A703B2}")
	iidIAudioCaptureClient  = ole.NewGUID("{C8ADBD64-E71E-48A0-A4DE-185C395CD317}")

	pkeyDeviceFriendlyName = propertyKey{
		fmtid: *ole.NewGUID("{A45C254E-DF1C-4EFD-8020-67D146A850E0}"),
		pid:   14,
	}

	procPropVariantClear = windows.NewLazySystemDLL("ole32.dll").NewProc("PropVariantClear")
)

const (
	eRender           = 0
	eCapture          = 1
	eConsole          = 0
	deviceStateActive = 0x1
	stgmRead          = 0
	clsctxAll         = 0x1 | 0x2 | 0x4 | 0x10
	vtLPWSTR          = 31
	sFalse            = 0x1

	audclntShareModeShared    = 0
	audclntStreamLoopback     = 0x00020000
	audclntBufferFlagsSilent  = 0x2
	audclntEDeviceInvalidated = 0x88890004

	// COM vtable indices; IUnknown occupies 0-2.
	enumEnumAudioEndpoints      = 3
	enumGetDefaultAudioEndpoint = 4
	collGetCount                = 3
	collItem                    = 4
	devActivate                 = 3
	devOpenPropertyStore        = 4
	devGetID                    = 5
	propsGetValue               = 5
	clientInitialize            = 3
	clientGetMixFormat          = 8
	clientStart                 = 10
	clientStop                  = 11
	clientGetService            = 14
	capGetBuffer                = 3
	capReleaseBuffer            = 4

	wasapiBufferDuration = 200 * 10000 // 200ms in 100ns units
	wasapiPollInterval   = 10 * time.Millisecond
	maxBufferFailures    = 50
)

type propertyKey struct {
	fmtid ole.GUID
	pid   uint32
}

// propVariant is a PROPVARIANT sized for a pointer payload on 32 and 64 bit.
type propVariant struct {
	vt       uint16
	reserved [3]uint16
	val      uintptr
	pad      uintptr
}

// wasapiCapturer captures from WASAPI endpoints. Output (render) endpoints
// are opened in loopback mode so the buffer holds what the machine plays;
// input endpoints are captured directly.
type wasapiCapturer struct{}

// NewCapturer returns the WASAPI capture backend.
func NewCapturer() Capturer {
	return wasapiCapturer{}
}

// Devices lists active output endpoints first, then inputs.
func (wasapiCapturer) Devices() ([]Device, error) {
	var devices []Device
	err := withCOM(func() error {
		enum, err := newEnumerator()
		if err != nil {
			return err
		}
		defer comRelease(enum)

		for _, flow := range []uint32{eRender, eCapture} {
			def, _ := defaultEndpointID(enum, flow)
			eps, err := listEndpoints(enum, flow)
			if err != nil {
				return err
			}
			for _, ep := range eps {
				d := Device{
					ID:       ep.id,
					Name:     ep.name,
					HostAPI:  "WASAPI",
					Default:  ep.id == def,
					Loopback: ep.loopback,
				}
				if mf, err := endpointMix(ep.device); err == nil {
					d.Channels = mf.Channels
					d.SampleRate = float64(mf.SampleRate)
				}
				comRelease(ep.device)
				devices = append(devices, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// Open starts a dedicated COM thread for the stream and returns once the
// endpoint is initialized. "" selects the default output in loopback mode.
func (wasapiCapturer) Open(id string) (Stream, Format, error) {
	s := &wasapiStream{
		startc:   make(chan streamCallbacks),
		startErr: make(chan error, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	ready := make(chan openResult, 1)
	go s.run(id, ready)

	res := <-ready
	if res.err != nil {
		<-s.exited
		return nil, Format{}, res.err
	}
	return s, res.mix.Output(), nil
}

func (wasapiCapturer) Close() error {
	return nil
}

type streamCallbacks struct {
	onData    func([]byte)
	onStopped func(error)
}

type openResult struct {
	mix mixFormat
	err error
}

type wasapiStream struct {
	startc   chan streamCallbacks
	startErr chan error
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

func (s *wasapiStream) run(id string, ready chan<- openResult) {
	defer close(s.exited)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := coInit(); err != nil {
		ready <- openResult{err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
		return
	}
	defer ole.CoUninitialize()

	sess, err := openSession(id)
	if err != nil {
		ready <- openResult{err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
		return
	}
	defer sess.release()
	ready <- openResult{mix: sess.mix}

	var cb streamCallbacks
	select {
	case cb = <-s.startc:
	case <-s.done:
		return
	}
	if _, err := comCall(sess.client, clientStart); err != nil {
		s.startErr <- fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
		return
	}
	s.startErr <- nil

	cause := sess.pump(s.done, cb.onData)
	comCall(sess.client, clientStop)
	cb.onStopped(cause)
}

func (s *wasapiStream) Start(onData func([]byte), onStopped func(error)) error {
	select {
	case s.startc <- streamCallbacks{onData: onData, onStopped: onStopped}:
	case <-s.exited:
		return fmt.Errorf("%w: stream closed", ErrDeviceUnavailable)
	}
	return <-s.startErr
}

func (s *wasapiStream) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })
	<-s.exited
	return nil
}

// wasapiSession holds the COM objects of one open endpoint. It lives and
// dies on the stream's locked thread.
type wasapiSession struct {
	enum     uintptr
	device   uintptr
	client   uintptr
	capture  uintptr
	name     string
	loopback bool
	mix      mixFormat
}

func openSession(id string) (*wasapiSession, error) {
	enum, err := newEnumerator()
	if err != nil {
		return nil, err
	}
	s := &wasapiSession{enum: enum}
	if err := s.selectEndpoint(id); err != nil {
		s.release()
		return nil, err
	}

	if _, err := comCall(s.device, devActivate,
		uintptr(unsafe.Pointer(iidIAudioClient)), clsctxAll, 0,
		uintptr(unsafe.Pointer(&s.client)),
	); err != nil {
		s.release()
		return nil, fmt.Errorf("activate audio client: %w", err)
	}

	mix, mixPtr, err := readMixFormat(s.client)
	if err != nil {
		s.release()
		return nil, err
	}
	s.mix = mix

	var flags uintptr
	if s.loopback {
		flags = audclntStreamLoopback
	}
	_, err = comCall(s.client, clientInitialize,
		audclntShareModeShared, flags, wasapiBufferDuration, 0, mixPtr, 0)
	ole.CoTaskMemFree(mixPtr)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("initialize audio client: %w", err)
	}

	if _, err := comCall(s.client, clientGetService,
		uintptr(unsafe.Pointer(iidIAudioCaptureClient)),
		uintptr(unsafe.Pointer(&s.capture)),
	); err != nil {
		s.release()
		return nil, fmt.Errorf("get capture client: %w", err)
	}

	log.Info("capture stream opened",
		"device", s.name,
		"loopback", s.loopback,
		"mixFloat", mix.Float,
		"format", mix.Output().String(),
	)
	return s, nil
}

func (s *wasapiSession) selectEndpoint(id string) error {
	if id == "" {
		if _, err := comCall(s.enum, enumGetDefaultAudioEndpoint,
			eRender, eConsole, uintptr(unsafe.Pointer(&s.device)),
		); err != nil {
			return fmt.Errorf("no default output: %w", err)
		}
		s.name = "default output"
		s.loopback = true
		return nil
	}

	for _, flow := range []uint32{eRender, eCapture} {
		eps, err := listEndpoints(s.enum, flow)
		if err != nil {
			return err
		}
		for _, ep := range eps {
			if ep.id == id && s.device == 0 {
				s.device, s.name, s.loopback = ep.device, ep.name, ep.loopback
				continue
			}
			comRelease(ep.device)
		}
		if s.device != 0 {
			return nil
		}
	}
	return fmt.Errorf("%q not found", id)
}

// pump polls the capture client until done and hands each packet to onData
// as 16-bit PCM. It returns nil after done and the cause otherwise.
func (s *wasapiSession) pump(done <-chan struct{}, onData func([]byte)) error {
	ticker := time.NewTicker(wasapiPollInterval)
	defer ticker.Stop()

	frameBytes := s.mix.frameBytes()
	var out []byte
	failures := 0
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
		}

		for {
			var data uintptr
			var frames, flags uint32
			hr, err := comCall(s.capture, capGetBuffer,
				uintptr(unsafe.Pointer(&data)),
				uintptr(unsafe.Pointer(&frames)),
				uintptr(unsafe.Pointer(&flags)),
				0, 0,
			)
			if err != nil {
				if uint32(hr) == audclntEDeviceInvalidated {
					return fmt.Errorf("%w: endpoint invalidated", ErrDeviceLost)
				}
				failures++
				if failures > maxBufferFailures {
					return fmt.Errorf("capture buffer: %w", err)
				}
				break
			}
			failures = 0
			if frames == 0 {
				break
			}

			if flags&audclntBufferFlagsSilent != 0 || data == 0 {
				out = silence(out, int(frames)*s.mix.Channels*2)
			} else {
				raw := unsafe.Slice((*byte)(unsafe.Pointer(data)), int(frames)*frameBytes)
				out = s.mix.toPCM16(out, raw)
			}
			if _, err := comCall(s.capture, capReleaseBuffer, uintptr(frames)); err != nil {
				return fmt.Errorf("release capture buffer: %w", err)
			}
			onData(out)
		}
	}
}

func (s *wasapiSession) release() {
	comRelease(s.capture)
	comRelease(s.client)
	comRelease(s.device)
	comRelease(s.enum)
	s.capture, s.client, s.device, s.enum = 0, 0, 0, 0
}

func silence(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

type endpoint struct {
	id       string
	name     string
	loopback bool
	device   uintptr // owned by the caller
}

func newEnumerator() (uintptr, error) {
	unk, err := ole.CreateInstance(clsidMMDeviceEnumerator, iidIMMDeviceEnumerator)
	if err != nil {
		return 0, fmt.Errorf("create device enumerator: %w", err)
	}
	return uintptr(unsafe.Pointer(unk)), nil
}

func listEndpoints(enum uintptr, flow uint32) ([]endpoint, error) {
	var coll uintptr
	if _, err := comCall(enum, enumEnumAudioEndpoints,
		uintptr(flow), deviceStateActive, uintptr(unsafe.Pointer(&coll)),
	); err != nil {
		return nil, fmt.Errorf("enumerate endpoints: %w", err)
	}
	defer comRelease(coll)

	var count uint32
	if _, err := comCall(coll, collGetCount, uintptr(unsafe.Pointer(&count))); err != nil {
		return nil, fmt.Errorf("count endpoints: %w", err)
	}
	eps := make([]endpoint, 0, count)
	for i := uint32(0); i < count; i++ {
		var dev uintptr
		if _, err := comCall(coll, collItem, uintptr(i), uintptr(unsafe.Pointer(&dev))); err != nil {
			continue
		}
		id, err := endpointID(dev)
		if err != nil {
			comRelease(dev)
			continue
		}
		eps = append(eps, endpoint{
			id:       id,
			name:     friendlyName(dev, id),
			loopback: flow == eRender,
			device:   dev,
		})
	}
	return eps, nil
}

func defaultEndpointID(enum uintptr, flow uint32) (string, error) {
	var dev uintptr
	if _, err := comCall(enum, enumGetDefaultAudioEndpoint,
		uintptr(flow), eConsole, uintptr(unsafe.Pointer(&dev)),
	); err != nil {
		return "", err
	}
	defer comRelease(dev)
	return endpointID(dev)
}

func endpointID(dev uintptr) (string, error) {
	var p *uint16
	if _, err := comCall(dev, devGetID, uintptr(unsafe.Pointer(&p))); err != nil {
		return "", fmt.Errorf("endpoint id: %w", err)
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(p)))
	return windows.UTF16PtrToString(p), nil
}

func friendlyName(dev uintptr, fallback string) string {
	var store uintptr
	if _, err := comCall(dev, devOpenPropertyStore, stgmRead, uintptr(unsafe.Pointer(&store))); err != nil {
		return fallback
	}
	defer comRelease(store)

	var pv propVariant
	if _, err := comCall(store, propsGetValue,
		uintptr(unsafe.Pointer(&pkeyDeviceFriendlyName)),
		uintptr(unsafe.Pointer(&pv)),
	); err != nil {
		return fallback
	}
	defer procPropVariantClear.Call(uintptr(unsafe.Pointer(&pv)))
	if pv.vt != vtLPWSTR || pv.val == 0 {
		return fallback
	}
	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(pv.val)))
}

func endpointMix(dev uintptr) (mixFormat, error) {
	var client uintptr
	if _, err := comCall(dev, devActivate,
		uintptr(unsafe.Pointer(iidIAudioClient)), clsctxAll, 0,
		uintptr(unsafe.Pointer(&client)),
	); err != nil {
		return mixFormat{}, err
	}
	defer comRelease(client)
	mf, ptr, err := readMixFormat(client)
	if err != nil {
		return mixFormat{}, err
	}
	ole.CoTaskMemFree(ptr)
	return mf, nil
}

// readMixFormat returns the engine mix format and the COM allocation holding
// it, which the caller frees with CoTaskMemFree.
func readMixFormat(client uintptr) (mixFormat, uintptr, error) {
	var ptr uintptr
	if _, err := comCall(client, clientGetMixFormat, uintptr(unsafe.Pointer(&ptr))); err != nil {
		return mixFormat{}, 0, fmt.Errorf("get mix format: %w", err)
	}
	hdr := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), waveFormatExHeaderSize)
	size := waveFormatExHeaderSize + int(binary.LittleEndian.Uint16(hdr[16:]))
	mf, err := parseMixFormat(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
	if err != nil {
		ole.CoTaskMemFree(ptr)
		return mixFormat{}, 0, err
	}
	return mf, ptr, nil
}

func withCOM(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := coInit(); err != nil {
		return err
	}
	defer ole.CoUninitialize()
	return fn()
}

// coInit joins the multithreaded apartment. S_FALSE (already joined) still
// needs a matching CoUninitialize.
func coInit() error {
	err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED)
	var oleErr *ole.OleError
	if err != nil && !(errors.As(err, &oleErr) && oleErr.Code() == sFalse) {
		return fmt.Errorf("CoInitializeEx: %w", err)
	}
	return nil
}

// comCall invokes vtable method idx on obj.
func comCall(obj uintptr, idx int, args ...uintptr) (uintptr, error) {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
	hr, _, _ := syscall.SyscallN(fn, append([]uintptr{obj}, args...)...)
	if int32(hr) < 0 {
		return hr, ole.NewError(hr)
	}
	return hr, nil
}

func comRelease(obj uintptr) {
	if obj == 0 {
		return
	}
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + 2*unsafe.Sizeof(uintptr(0))))
	syscall.SyscallN(fn, obj)
}
