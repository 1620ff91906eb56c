package archive

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

const (
	nsMAF = "http://maf.mozdev.org/metadata/rdf#"
	nsRDF = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
)

// Page is one page folder of a MAFF container. Charset is the encoding
// index.rdf declares for the page's files, if any.
type Page struct {
	Folder    string
	IndexFile string
	Charset   string
}

// maffPages lists the page folders in entry order. A folder's index file
// comes from index.rdf, else the first entry named index.*.
func (h *zipHandle) maffPages() ([]Page, error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	defer h.release()

	if h.pages == nil {
		h.pages = h.scanPages()
	}
	return h.pages, nil
}

func (h *zipHandle) scanPages() []Page {

	var folders []string
	groups := make(map[string][]string)
	for _, zf := range h.order {
		folder, rest, ok := strings.Cut(zf.Name, "/")
		if !ok {
			continue
		}
		if _, seen := groups[folder]; !seen {
			folders = append(folders, folder)
			groups[folder] = nil
		}
		if rest != "" {
			groups[folder] = append(groups[folder], rest)
		}
	}

	pages := make([]Page, 0, len(folders))
	for _, folder := range folders {
		page := Page{Folder: folder}
		if zf, ok := h.entries[folder+"/index.rdf"]; ok {
			if rc, err := zf.Open(); err == nil {
				data, _ := io.ReadAll(rc)
				rc.Close()
				parseRDF(data, &page)
			}
		}
		if page.IndexFile == "" {
			for _, name := range groups[folder] {
				if strings.HasPrefix(name, "index.") && !strings.Contains(name, "/") && name != "index.rdf" {
					page.IndexFile = name
					break
				}
			}
		}
		if page.IndexFile != "" {
			page.IndexFile = folder + "/" + page.IndexFile
		}
		pages = append(pages, page)
	}
	return pages
}

// parseRDF fills page from the MAF descriptors of an index.rdf file.
// Malformed documents leave page unchanged.
func parseRDF(data []byte, page *Page) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Space != nsMAF {
			continue
		}
		var value string
		for _, a := range se.Attr {
			if a.Name.Space == nsRDF && a.Name.Local == "resource" {
				value = a.Value
			}
		}
		switch se.Name.Local {
		case "indexfilename":
			page.IndexFile = value
		case "charset":
			page.Charset = value
		}
	}
}
