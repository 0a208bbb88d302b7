package validate

// Builtin/stdlib tables consulted by the dependency audit. Plain data, like
// the routing and deny tables.

var pythonStdlib = map[string]bool{
	"abc": true, "argparse": true, "asyncio": true, "base64": true,
	"bisect": true, "collections": true, "concurrent": true, "contextlib": true,
	"copy": true, "csv": true, "ctypes": true, "dataclasses": true,
	"datetime": true, "decimal": true, "enum": true, "functools": true,
	"glob": true, "gzip": true, "hashlib": true, "heapq": true, "hmac": true,
	"html": true, "http": true, "importlib": true, "inspect": true, "io": true,
	"itertools": true, "json": true, "logging": true, "math": true,
	"multiprocessing": true, "operator": true, "os": true, "pathlib": true,
	"pickle": true, "platform": true, "pprint": true, "queue": true,
	"random": true, "re": true, "secrets": true, "shutil": true,
	"signal": true, "socket": true, "sqlite3": true, "statistics": true,
	"string": true, "struct": true, "subprocess": true, "sys": true,
	"tempfile": true, "textwrap": true, "threading": true, "time": true,
	"timeit": true, "traceback": true, "types": true, "typing": true,
	"unittest": true, "urllib": true, "uuid": true, "warnings": true,
	"weakref": true, "xml": true, "zipfile": true, "zlib": true,
	"__future__": true,
}

var nodeBuiltins = map[string]bool{
	"assert": true, "buffer": true, "child_process": true, "cluster": true,
	"crypto": true, "dns": true, "events": true, "fs": true, "http": true,
	"https": true, "net": true, "os": true, "path": true, "process": true,
	"querystring": true, "readline": true, "stream": true,
	"string_decoder": true, "timers": true, "tls": true, "url": true,
	"util": true, "worker_threads": true, "zlib": true,
}

// defaultVerifiedPackages seeds the installable-package cache with the
// packages the role prompts steer toward. The engine extends this set from
// config.
func defaultVerifiedPackages() map[string]bool {
	return map[string]bool{
		// Python
		"flask": true, "fastapi": true, "uvicorn": true, "django": true,
		"requests": true, "numpy": true, "pandas": true, "matplotlib": true,
		"scipy": true, "pytest": true, "sqlalchemy": true, "pydantic": true,
		"jwt": true, "pyjwt": true, "bcrypt": true, "aiohttp": true,
		"httpx": true, "jinja2": true, "seaborn": true, "networkx": true,
		// JavaScript
		"react": true, "react-dom": true, "react-router-dom": true,
		"express": true, "axios": true, "vite": true, "tailwindcss": true,
		"lodash": true, "zustand": true, "jest": true, "vitest": true,
		"cors": true, "dotenv": true, "prop-types": true,
	}
}
