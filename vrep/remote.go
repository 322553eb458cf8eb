package vrep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"
)

// RemoteClient talks to a simulator bridge over HTTP with JSON bodies.
// One client serves exactly one simulator instance and is not shared
// between environments.
type RemoteClient struct {
	addr   string
	client *http.Client
}

var _ Client = &RemoteClient{}

// NewRemoteClient creates a client for the bridge at addr (host:port).
// A nil http client uses one without timeout, calls block until the simulator answers
// or the context is cancelled.
func NewRemoteClient(addr string, client *http.Client) *RemoteClient {
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteClient{
		addr:   addr,
		client: client,
	}
}

// Dial creates a client for the simulator serving the given rank
func Dial(host string, basePort, rank int) *RemoteClient {
	return NewRemoteClient(host+":"+strconv.Itoa(PortForRank(basePort, rank)), nil)
}

// Addr returns the bridge address
func (c *RemoteClient) Addr() string {
	return c.addr
}

func (c *RemoteClient) call(ctx context.Context, function string, req Request) (Response, error) {
	bs, err := json.Marshal(req)
	if err != nil {
		return Response{}, &SimulatorError{Op: function, Code: ReturnLocalError, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.addr+"/rpc/"+function, bytes.NewReader(bs))
	if err != nil {
		return Response{}, &SimulatorError{Op: function, Code: ReturnLocalError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, &SimulatorError{Op: function, Code: ReturnLocalError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &SimulatorError{Op: function, Code: ReturnLocalError, Err: err}
	}
	out := Response{}
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, &SimulatorError{
			Op:   function,
			Code: ReturnLocalError,
			Err:  fmt.Errorf("bad response (status %d): %w", resp.StatusCode, err),
		}
	}
	if out.Code != ReturnOK {
		return out, &SimulatorError{Op: function, Code: out.Code}
	}
	return out, nil
}

func (c *RemoteClient) callVec(ctx context.Context, function string, req Request) (r3.Vec, error) {
	resp, err := c.call(ctx, function, req)
	if err != nil {
		return r3.Vec{}, err
	}
	v, ok := SliceToVec(resp.Values)
	if !ok {
		return r3.Vec{}, &SimulatorError{
			Op:   function,
			Code: ReturnLocalError,
			Err:  fmt.Errorf("expected 3 values, got %d", len(resp.Values)),
		}
	}
	return v, nil
}

func (c *RemoteClient) GetObjectHandle(ctx context.Context, name string) (Handle, error) {
	resp, err := c.call(ctx, FuncGetObjectHandle, Request{Name: name})
	if err != nil {
		return 0, err
	}
	return resp.Handle, nil
}

func (c *RemoteClient) GetCollisionHandle(ctx context.Context, name string) (Handle, error) {
	resp, err := c.call(ctx, FuncGetCollisionHandle, Request{Name: name})
	if err != nil {
		return 0, err
	}
	return resp.Handle, nil
}

func (c *RemoteClient) GetObjectPosition(ctx context.Context, h, ref Handle) (r3.Vec, error) {
	return c.callVec(ctx, FuncGetObjectPosition, Request{Handle: h, Ref: ref})
}

func (c *RemoteClient) GetObjectOrientation(ctx context.Context, h, ref Handle) (r3.Vec, error) {
	return c.callVec(ctx, FuncGetObjectOrientation, Request{Handle: h, Ref: ref})
}

func (c *RemoteClient) SetObjectPosition(ctx context.Context, h, ref Handle, pos r3.Vec) error {
	_, err := c.call(ctx, FuncSetObjectPosition, Request{Handle: h, Ref: ref, Values: VecToSlice(pos)})
	return err
}

func (c *RemoteClient) SetObjectOrientation(ctx context.Context, h, ref Handle, euler r3.Vec) error {
	_, err := c.call(ctx, FuncSetObjectOrientation, Request{Handle: h, Ref: ref, Values: VecToSlice(euler)})
	return err
}

func (c *RemoteClient) ReadCollision(ctx context.Context, h Handle) (bool, error) {
	resp, err := c.call(ctx, FuncReadCollision, Request{Handle: h})
	if err != nil {
		return false, err
	}
	return resp.Flag, nil
}

func (c *RemoteClient) GetJointPosition(ctx context.Context, h Handle) (float64, error) {
	resp, err := c.call(ctx, FuncGetJointPosition, Request{Handle: h})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func (c *RemoteClient) SetJointPosition(ctx context.Context, h Handle, pos float64) error {
	_, err := c.call(ctx, FuncSetJointPosition, Request{Handle: h, Value: pos})
	return err
}

func (c *RemoteClient) SetJointTargetVelocity(ctx context.Context, h Handle, vel float64) error {
	_, err := c.call(ctx, FuncSetJointTargetVelocity, Request{Handle: h, Value: vel})
	return err
}

func (c *RemoteClient) LoadScene(ctx context.Context, path string, headless bool) error {
	_, err := c.call(ctx, FuncLoadScene, Request{Name: path, Flag: headless})
	return err
}

func (c *RemoteClient) Synchronous(ctx context.Context, enable bool) error {
	_, err := c.call(ctx, FuncSynchronous, Request{Flag: enable})
	return err
}

func (c *RemoteClient) StartSimulation(ctx context.Context) error {
	_, err := c.call(ctx, FuncStartSimulation, Request{})
	return err
}

func (c *RemoteClient) StopSimulation(ctx context.Context) error {
	_, err := c.call(ctx, FuncStopSimulation, Request{})
	return err
}

func (c *RemoteClient) SynchronousTrigger(ctx context.Context) error {
	_, err := c.call(ctx, FuncSynchronousTrigger, Request{})
	return err
}

// Close releases idle connections to the bridge
func (c *RemoteClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
