package simserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zeu5/dishrack-rl/vrep"
)

// SceneResolver maps the scene path requested by a client to a scene description
type SceneResolver func(path string) (SceneFile, error)

// FixedScene serves the same scene for every load request
func FixedScene(file SceneFile) SceneResolver {
	return func(string) (SceneFile, error) {
		return file, nil
	}
}

// Server exposes a Scene through the bridge protocol understood by vrep.RemoteClient
type Server struct {
	Addr    string
	Scene   *Scene
	resolve SceneResolver
	server  *http.Server
	handler http.Handler
}

// New creates a server for the scene. A nil resolver reads JSON scene files from disk.
func New(addr string, scene *Scene, resolve SceneResolver) *Server {
	if resolve == nil {
		resolve = LoadSceneFile
	}
	s := &Server{
		Addr:    addr,
		Scene:   scene,
		resolve: resolve,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.POST("/rpc/:function", s.handleRPC)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	s.handler = r
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for use with httptest
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.server.ListenAndServe()
	}()

	go func() {
		<-ctx.Done()
		sCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.server.Shutdown(sCtx)
	}()
}

func (s *Server) handleRPC(c *gin.Context) {
	req := vrep.Request{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, vrep.Response{Code: vrep.ReturnLocalError})
		return
	}
	c.JSON(http.StatusOK, s.dispatch(c.Param("function"), req))
}

func (s *Server) dispatch(function string, req vrep.Request) vrep.Response {
	resp := vrep.Response{}
	switch function {
	case vrep.FuncGetObjectHandle:
		resp.Handle, resp.Code = s.Scene.ObjectHandle(req.Name)
	case vrep.FuncGetCollisionHandle:
		resp.Handle, resp.Code = s.Scene.CollisionHandle(req.Name)
	case vrep.FuncGetObjectPosition:
		v, code := s.Scene.Position(req.Handle, req.Ref)
		resp.Code = code
		if code == vrep.ReturnOK {
			resp.Values = vrep.VecToSlice(v)
		}
	case vrep.FuncGetObjectOrientation:
		v, code := s.Scene.Orientation(req.Handle, req.Ref)
		resp.Code = code
		if code == vrep.ReturnOK {
			resp.Values = vrep.VecToSlice(v)
		}
	case vrep.FuncSetObjectPosition:
		v, ok := vrep.SliceToVec(req.Values)
		if !ok {
			resp.Code = vrep.ReturnRemoteError
			break
		}
		resp.Code = s.Scene.SetPosition(req.Handle, req.Ref, v)
	case vrep.FuncSetObjectOrientation:
		v, ok := vrep.SliceToVec(req.Values)
		if !ok {
			resp.Code = vrep.ReturnRemoteError
			break
		}
		resp.Code = s.Scene.SetOrientation(req.Handle, req.Ref, v)
	case vrep.FuncReadCollision:
		resp.Flag, resp.Code = s.Scene.ReadCollision(req.Handle)
	case vrep.FuncGetJointPosition:
		resp.Value, resp.Code = s.Scene.JointPosition(req.Handle)
	case vrep.FuncSetJointPosition:
		resp.Code = s.Scene.SetJointPosition(req.Handle, req.Value)
	case vrep.FuncSetJointTargetVelocity:
		resp.Code = s.Scene.SetJointTargetVelocity(req.Handle, req.Value)
	case vrep.FuncLoadScene:
		file, err := s.resolve(req.Name)
		if err != nil {
			resp.Code = vrep.ReturnRemoteError
			break
		}
		if err := s.Scene.Load(file); err != nil {
			resp.Code = vrep.ReturnRemoteError
			break
		}
		resp.Code = vrep.ReturnOK
	case vrep.FuncSynchronous:
		resp.Code = s.Scene.SetSynchronous(req.Flag)
	case vrep.FuncStartSimulation:
		resp.Code = s.Scene.Start()
	case vrep.FuncStopSimulation:
		resp.Code = s.Scene.Stop()
	case vrep.FuncSynchronousTrigger:
		resp.Code = s.Scene.Trigger()
	default:
		resp.Code = vrep.ReturnIllegalOpmode
	}
	return resp
}
