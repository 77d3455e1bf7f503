// Package stack assembles the reference deployments from a
// config.Deployment.
package stack

import (
	"errors"
	"fmt"
)

var ErrUnknownFramework = errors.New("unknown framework")

// Framework selects one branch of the sample API repository.
type Framework int

const (
	Django Framework = iota + 1
	Flask
	FastAPI
)

// Profile is how a framework's API is built and run.
type Profile struct {
	Branch       string
	Port         int
	BuildCommand string
	StartCommand string
	// Image is the published container image, when one exists.
	Image string
}

const (
	apiPort      = 8000
	buildCommand = "pip install -r requirements.txt"
)

func ParseFramework(key string) (Framework, error) {
	switch key {
	case "django":
		return Django, nil
	case "flask":
		return Flask, nil
	case "fast":
		return FastAPI, nil
	default:
		return 0, fmt.Errorf("%w %q (want django, flask or fast)", ErrUnknownFramework, key)
	}
}

// Frameworks lists every framework in declaration order.
func Frameworks() []Framework {
	return []Framework{Django, Flask, FastAPI}
}

// Key is the configuration name ParseFramework accepts.
func (f Framework) Key() string {
	switch f {
	case Django:
		return "django"
	case Flask:
		return "flask"
	case FastAPI:
		return "fast"
	default:
		return ""
	}
}

func (f Framework) String() string {
	switch f {
	case Django:
		return "Django"
	case Flask:
		return "Flask"
	case FastAPI:
		return "FastAPI"
	default:
		return fmt.Sprintf("Framework(%d)", int(f))
	}
}

func (f Framework) Profile() Profile {
	switch f {
	case Django:
		return Profile{
			Branch:       "django",
			Port:         apiPort,
			BuildCommand: buildCommand,
			StartCommand: "gunicorn sampleapi.wsgi",
		}
	case Flask:
		return Profile{
			Branch:       "flask",
			Port:         apiPort,
			BuildCommand: buildCommand,
			StartCommand: "python server.py",
		}
	case FastAPI:
		return Profile{
			Branch:       "fast",
			Port:         apiPort,
			BuildCommand: buildCommand,
			StartCommand: "uvicorn server:app --host=0.0.0.0 --port=8000",
			Image:        "public.ecr.aws/shafkevi/simple-python-api:fastapi",
		}
	default:
		panic(fmt.Sprintf("stack: no profile for %s", f))
	}
}
