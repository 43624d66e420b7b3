package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// container is a parsed EPUB zip: OPF metadata, manifest, spine order
// and the flattened table of contents.
type container struct {
	reader *zip.ReadCloser
	files  map[string]*zip.File

	opfDir   string
	metadata Metadata
	manifest map[string]manifestItem
	items    []manifestItem // manifest in document order
	spine    []string
	ncxID    string
	coverID  string
	toc      []tocEntry
}

type manifestItem struct {
	ID         string
	Href       string // normalized zip path
	MediaType  string
	Properties string
}

type tocEntry struct {
	Title    string
	Href     string // normalized zip path, fragment removed
	Fragment string
}

type containerXML struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Titles       []string `xml:"title"`
		Creators     []string `xml:"creator"`
		Languages    []string `xml:"language"`
		Publishers   []string `xml:"publisher"`
		Dates        []string `xml:"date"`
		Descriptions []string `xml:"description"`
		Metas        []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		Itemrefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type ncxDocument struct {
	NavMap struct {
		Points []ncxNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxNavPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

// openContainer opens and parses the EPUB at filePath.
func openContainer(filePath string) (*container, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub archive: %w", err)
	}

	c := &container{
		reader:   zr,
		files:    make(map[string]*zip.File, len(zr.File)),
		manifest: make(map[string]manifestItem),
	}
	for _, f := range zr.File {
		c.files[path.Clean(f.Name)] = f
	}

	if err := c.parseRootfile(); err != nil {
		zr.Close()
		return nil, err
	}
	c.parseTOC()
	return c, nil
}

func (c *container) Close() error {
	return c.reader.Close()
}

func (c *container) readFile(name string) ([]byte, error) {
	f, ok := c.files[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("file %q not in archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// resolve normalizes an href relative to dir into a zip path and splits
// off any fragment.
func resolve(dir, href string) (file, fragment string) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		fragment = href[i+1:]
		href = href[:i]
	}
	if href == "" {
		return "", fragment
	}
	return path.Clean(path.Join(dir, href)), fragment
}

func (c *container) parseRootfile() error {
	data, err := c.readFile("META-INF/container.xml")
	if err != nil {
		return fmt.Errorf("invalid epub: %w", err)
	}
	var cx containerXML
	if err := xml.Unmarshal(data, &cx); err != nil {
		return fmt.Errorf("failed to parse container.xml: %w", err)
	}
	if len(cx.Rootfiles) == 0 {
		return fmt.Errorf("container.xml lists no rootfile")
	}

	opfPath := path.Clean(cx.Rootfiles[0].FullPath)
	c.opfDir = path.Dir(opfPath)
	if c.opfDir == "." {
		c.opfDir = ""
	}

	data, err = c.readFile(opfPath)
	if err != nil {
		return fmt.Errorf("failed to read opf: %w", err)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return fmt.Errorf("failed to parse opf: %w", err)
	}

	c.metadata = Metadata{
		Title:       first(pkg.Metadata.Titles),
		Author:      first(pkg.Metadata.Creators),
		Language:    first(pkg.Metadata.Languages),
		Publisher:   first(pkg.Metadata.Publishers),
		Date:        first(pkg.Metadata.Dates),
		Description: first(pkg.Metadata.Descriptions),
	}
	for _, m := range pkg.Metadata.Metas {
		if m.Name == "cover" && m.Content != "" {
			c.coverID = m.Content
			break
		}
	}

	for _, it := range pkg.Manifest.Items {
		href, _ := resolve(c.opfDir, it.Href)
		item := manifestItem{
			ID:         it.ID,
			Href:       href,
			MediaType:  it.MediaType,
			Properties: it.Properties,
		}
		c.manifest[it.ID] = item
		c.items = append(c.items, item)
	}
	c.ncxID = pkg.Spine.Toc
	for _, ref := range pkg.Spine.Itemrefs {
		c.spine = append(c.spine, ref.IDRef)
	}
	return nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// spineDocuments returns the manifest items of the spine, in reading
// order, restricted to XHTML documents.
func (c *container) spineDocuments() []manifestItem {
	var docs []manifestItem
	for _, idref := range c.spine {
		item, ok := c.manifest[idref]
		if !ok {
			continue
		}
		if item.MediaType == "application/xhtml+xml" || item.MediaType == "text/html" {
			docs = append(docs, item)
		}
	}
	return docs
}

// parseTOC loads the navigation document if present, otherwise the NCX.
// A missing or empty TOC is not an error; later detection strategies
// take over.
func (c *container) parseTOC() {
	for _, item := range c.items {
		if strings.Contains(item.Properties, "nav") {
			if entries := c.parseNavDoc(item); len(entries) > 0 {
				c.toc = entries
				return
			}
		}
	}

	ncxItem, ok := c.manifest[c.ncxID]
	if !ok {
		for _, item := range c.items {
			if item.MediaType == "application/x-dtbncx+xml" {
				ncxItem = item
				ok = true
				break
			}
		}
	}
	if !ok {
		return
	}

	data, err := c.readFile(ncxItem.Href)
	if err != nil {
		return
	}
	var ncx ncxDocument
	if err := xml.Unmarshal(data, &ncx); err != nil {
		return
	}
	dir := path.Dir(ncxItem.Href)
	if dir == "." {
		dir = ""
	}
	c.toc = flattenNavPoints(ncx.NavMap.Points, dir)
}

func flattenNavPoints(points []ncxNavPoint, dir string) []tocEntry {
	var entries []tocEntry
	for _, p := range points {
		title := strings.TrimSpace(p.Label)
		file, frag := resolve(dir, p.Content.Src)
		if title != "" && file != "" {
			entries = append(entries, tocEntry{Title: title, Href: file, Fragment: frag})
		}
		entries = append(entries, flattenNavPoints(p.Children, dir)...)
	}
	return entries
}
